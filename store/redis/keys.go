package redis

// Key prefixes for primary entity storage.
const (
	prefixSubscription  = "esgb:sub:"
	prefixEvent         = "esgb:evt:"
	prefixDelivery      = "esgb:dlv:"
	prefixConnector     = "esgb:conn:"
	prefixSchemaVersion = "esgb:sver:"
	prefixMapping       = "esgb:cmap:"
	prefixCanonEntity   = "esgb:cent:"
	prefixSyncRecord    = "esgb:sync:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventIdem = "esgb:u:evt:idem:"
	uniqueEntityExt = "esgb:u:cent:ext:" // + connectorID + ":" + externalID
)

// Key prefixes for sorted set indexes.
const (
	zSubscriptionAll = "esgb:z:sub:all"
	zEventAll        = "esgb:z:evt:all"
	zDeliveryDue     = "esgb:z:dlv:due" // score = due time
	zDeliverySub     = "esgb:z:dlv:sub:" // + subscription ID
	zDeliveryEvt     = "esgb:z:dlv:evt:" // + event ID
	zConnectorAll    = "esgb:z:conn:all"
	zSchemaVersions  = "esgb:z:sver:" // + entity type, score = version
	zMappingConn     = "esgb:z:cmap:conn:" // + connector ID
	zCanonEntityAll  = "esgb:z:cent:all"
	zSyncAll         = "esgb:z:sync:all"
	zSyncConn        = "esgb:z:sync:conn:" // + connector ID
)

// Key prefixes for set indexes.
const (
	sSubscriptionActive = "esgb:s:sub:active"
	sDeliveryInFlight   = "esgb:s:dlv:inflight"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// externalIDKey returns the unique index key for a canonical entity's
// (connector, external ID) pair.
func externalIDKey(connectorID, externalID string) string {
	return uniqueEntityExt + connectorID + ":" + externalID
}
