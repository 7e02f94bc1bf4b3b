package energy

import sdk "github.com/wattscope/wattscope/pkg/energy"

// Event topics published by the energy plugin.
const (
	TopicObservation = "energy.observation"
	TopicAnomalies   = "energy.anomalies"
	TopicTrained     = "energy.model_trained"
)

// ObservationEvent is the payload of TopicObservation.
type ObservationEvent struct {
	Observation sdk.Observation  `json:"observation"`
	DeviceState sdk.DeviceStates `json:"device_state"`
}

// AnomaliesEvent is the payload of TopicAnomalies, published whenever a
// fresh analytics computation surfaces at least one anomaly.
type AnomaliesEvent struct {
	Anomalies []sdk.Anomaly `json:"anomalies"`
}

// TrainedEvent is the payload of TopicTrained.
type TrainedEvent struct {
	Performance sdk.ModelPerformance `json:"performance"`
}
