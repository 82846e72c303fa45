package model

// Node status constants.
const (
	NodeStatusPending = "pending"
	NodeStatusOnline  = "online"
	NodeStatusOffline = "offline"
)

// Load-balancing strategies a pool can use.
const (
	StrategyRoundRobin     = "round_robin"
	StrategyRandom         = "random"
	StrategyLeastLoad      = "least_load"
	StrategyLeastSlots     = "least_slots"
	StrategyLeastBandwidth = "least_bandwidth"
	StrategyWeighted       = "weighted"
	StrategyGeoNearest     = "geo_nearest"
)

// Slot categories counted against a node's capacity.
const (
	SlotCategoryInbound   = "inbound"
	SlotCategoryPrincipal = "principal"
)

// Traffic entity types.
const (
	EntityNode      = "node"
	EntityInbound   = "inbound"
	EntityPrincipal = "principal"
)

// Cached resource kinds a change token is kept for.
const (
	ResourceConfig = "config"
	ResourceUsers  = "users"
)
