package domain

// PodEventKind classifies realtime notifications for a pod.
type PodEventKind string

const (
	// EventMemberChange covers any insert, update or delete on the pod's members.
	EventMemberChange PodEventKind = "member-change"
	// EventPodUpdate covers updates to the pod row itself.
	EventPodUpdate PodEventKind = "pod-update"
)

// PodEvent says "something changed" for a pod. It carries no row data;
// receivers always re-read authoritative state.
type PodEvent struct {
	PodID string       `json:"podId"`
	Kind  PodEventKind `json:"kind"`
}
