package ingest

// State is the driver's position in a run.
type State int32

const (
	StateIdle State = iota
	StateListingPartitions
	StateBuildingInventory
	StateProcessingPartitions
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListingPartitions:
		return "listing_partitions"
	case StateBuildingInventory:
		return "building_inventory"
	case StateProcessingPartitions:
		return "processing_partitions"
	case StateReporting:
		return "reporting"
	default:
		return "unknown"
	}
}
