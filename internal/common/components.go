package common

const (
	ComponentCollector     = "collector"
	ComponentReorgDetector = "reorg-detector"
	ComponentMaintenance   = "maintenance"
	ComponentSyncStore     = "sync-store"
	ComponentGateway       = "gateway"
	ComponentScheduler     = "scheduler"
	ComponentEntityStore   = "entity-store"
	ComponentRPC           = "rpc"
	ComponentAPI           = "api"
)

var AllComponents = map[string]struct{}{
	ComponentCollector:     {},
	ComponentReorgDetector: {},
	ComponentMaintenance:   {},
	ComponentSyncStore:     {},
	ComponentGateway:       {},
	ComponentScheduler:     {},
	ComponentEntityStore:   {},
	ComponentRPC:           {},
	ComponentAPI:           {},
}
