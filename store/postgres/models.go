package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/internal/entity"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:esgbridge_subscriptions"`

	ID                  string            `grove:"id,pk"`
	Name                string            `grove:"name"`
	URL                 string            `grove:"url"`
	Description         string            `grove:"description"`
	Secret              string            `grove:"secret"`
	EventTypes          []string          `grove:"event_types,array"`
	Status              string            `grove:"status"`
	MaxAttempts         int               `grove:"max_attempts"`
	BaseDelaySeconds    int               `grove:"base_delay_seconds"`
	Exponential         bool              `grove:"exponential"`
	ConsecutiveFailures int               `grove:"consecutive_failures"`
	DegradedAt          *time.Time        `grove:"degraded_at"`
	DegradedReason      string            `grove:"degraded_reason"`
	Headers             map[string]string `grove:"headers,type:jsonb"`
	RateLimit           int               `grove:"rate_limit"`
	Metadata            map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt           time.Time         `grove:"created_at"`
	UpdatedAt           time.Time         `grove:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                  sub.ID.String(),
		Name:                sub.Name,
		URL:                 sub.URL,
		Description:         sub.Description,
		Secret:              sub.Secret,
		EventTypes:          sub.EventTypes,
		Status:              string(sub.Status),
		MaxAttempts:         sub.RetryPolicy.MaxAttempts,
		BaseDelaySeconds:    sub.RetryPolicy.BaseDelaySeconds,
		Exponential:         sub.RetryPolicy.Exponential,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		DegradedAt:          sub.DegradedAt,
		DegradedReason:      sub.DegradedReason,
		Headers:             sub.Headers,
		RateLimit:           sub.RateLimit,
		Metadata:            sub.Metadata,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		Name:        m.Name,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Status:      subscription.Status(m.Status),
		RetryPolicy: subscription.RetryPolicy{
			MaxAttempts:      m.MaxAttempts,
			BaseDelaySeconds: m.BaseDelaySeconds,
			Exponential:      m.Exponential,
		},
		ConsecutiveFailures: m.ConsecutiveFailures,
		DegradedAt:          m.DegradedAt,
		DegradedReason:      m.DegradedReason,
		Headers:             m.Headers,
		RateLimit:           m.RateLimit,
		Metadata:            m.Metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:esgbridge_events"`

	ID             string          `grove:"id,pk"`
	Type           string          `grove:"type"`
	EntityType     string          `grove:"entity_type"`
	EntityID       string          `grove:"entity_id"`
	CorrelationID  string          `grove:"correlation_id"`
	Data           json.RawMessage `grove:"data,type:jsonb"`
	IdempotencyKey string          `grove:"idempotency_key"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	data, _ := json.Marshal(evt.Data) //nolint:errcheck // best-effort serialization
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		EntityType:     evt.EntityType,
		EntityID:       evt.EntityID,
		CorrelationID:  evt.CorrelationID,
		Data:           data,
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	var data any = m.Data
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             evtID,
		Type:           m.Type,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		CorrelationID:  m.CorrelationID,
		Data:           data,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:esgbridge_deliveries"`

	ID               string          `grove:"id,pk"`
	EventID          string          `grove:"event_id"`
	SubscriptionID   string          `grove:"subscription_id"`
	EventType        string          `grove:"event_type"`
	CorrelationID    string          `grove:"correlation_id"`
	Payload          json.RawMessage `grove:"payload,type:jsonb"`
	Signature        string          `grove:"signature"`
	Status           string          `grove:"status"`
	AttemptCount     int             `grove:"attempt_count"`
	MaxAttempts      int             `grove:"max_attempts"`
	BaseDelaySeconds int             `grove:"base_delay_seconds"`
	Exponential      bool            `grove:"exponential"`
	NextRetryAt      *time.Time      `grove:"next_retry_at"`
	LastStatusCode   int             `grove:"last_status_code"`
	LastResponse     string          `grove:"last_response"`
	LastError        string          `grove:"last_error"`
	LastLatencyMs    int             `grove:"last_latency_ms"`
	LastAttemptAt    *time.Time      `grove:"last_attempt_at"`
	CompletedAt      *time.Time      `grove:"completed_at"`
	ReplayOf         string          `grove:"replay_of"`
	CreatedAt        time.Time       `grove:"created_at"`
	UpdatedAt        time.Time       `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	m := &deliveryModel{
		ID:               d.ID.String(),
		EventID:          d.EventID.String(),
		SubscriptionID:   d.SubscriptionID.String(),
		EventType:        d.EventType,
		CorrelationID:    d.CorrelationID,
		Payload:          d.Payload,
		Signature:        d.Signature,
		Status:           string(d.Status),
		AttemptCount:     d.AttemptCount,
		MaxAttempts:      d.MaxAttempts,
		BaseDelaySeconds: d.BaseDelaySeconds,
		Exponential:      d.Exponential,
		NextRetryAt:      d.NextRetryAt,
		LastStatusCode:   d.LastStatusCode,
		LastResponse:     d.LastResponse,
		LastError:        d.LastError,
		LastLatencyMs:    d.LastLatencyMs,
		LastAttemptAt:    d.LastAttemptAt,
		CompletedAt:      d.CompletedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if !d.ReplayOf.IsNil() {
		m.ReplayOf = d.ReplayOf.String()
	}
	return m
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	dlvID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	var replayOf id.ID
	if m.ReplayOf != "" {
		replayOf, err = id.ParseDeliveryID(m.ReplayOf)
		if err != nil {
			return nil, fmt.Errorf("parse replay delivery ID %q: %w", m.ReplayOf, err)
		}
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               dlvID,
		EventID:          evtID,
		SubscriptionID:   subID,
		EventType:        m.EventType,
		CorrelationID:    m.CorrelationID,
		Payload:          m.Payload,
		Signature:        m.Signature,
		Status:           delivery.Status(m.Status),
		AttemptCount:     m.AttemptCount,
		MaxAttempts:      m.MaxAttempts,
		BaseDelaySeconds: m.BaseDelaySeconds,
		Exponential:      m.Exponential,
		NextRetryAt:      m.NextRetryAt,
		LastStatusCode:   m.LastStatusCode,
		LastResponse:     m.LastResponse,
		LastError:        m.LastError,
		LastLatencyMs:    m.LastLatencyMs,
		LastAttemptAt:    m.LastAttemptAt,
		CompletedAt:      m.CompletedAt,
		ReplayOf:         replayOf,
	}, nil
}

// --- Connector models ---

type connectorModel struct {
	grove.BaseModel `grove:"table:esgbridge_connectors"`

	ID        string            `grove:"id,pk"`
	Name      string            `grove:"name"`
	Kind      string            `grove:"kind"`
	Endpoint  string            `grove:"endpoint"`
	AuthRef   string            `grove:"auth_ref"`
	RateLimit int               `grove:"rate_limit"`
	Active    bool              `grove:"active"`
	Metadata  map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toConnectorModel(c *connector.Connector) *connectorModel {
	return &connectorModel{
		ID:        c.ID.String(),
		Name:      c.Name,
		Kind:      string(c.Kind),
		Endpoint:  c.Endpoint,
		AuthRef:   c.AuthRef,
		RateLimit: c.RateLimit,
		Active:    c.Active,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromConnectorModel(m *connectorModel) (*connector.Connector, error) {
	connID, err := id.ParseConnectorID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ID, err)
	}
	return &connector.Connector{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        connID,
		Name:      m.Name,
		Kind:      connector.Kind(m.Kind),
		Endpoint:  m.Endpoint,
		AuthRef:   m.AuthRef,
		RateLimit: m.RateLimit,
		Active:    m.Active,
		Metadata:  m.Metadata,
	}, nil
}

// --- Schema version models ---

type schemaVersionModel struct {
	grove.BaseModel `grove:"table:esgbridge_schema_versions"`

	ID                     string          `grove:"id,pk"`
	EntityType             string          `grove:"entity_type"`
	Version                int             `grove:"version"`
	BackwardCompatibleWith *int            `grove:"backward_compatible_with"`
	Attributes             json.RawMessage `grove:"attributes,type:jsonb"`
	Schema                 json.RawMessage `grove:"schema,type:jsonb"`
	IsDeprecated           bool            `grove:"is_deprecated"`
	DeprecatedAt           *time.Time      `grove:"deprecated_at"`
	CreatedAt              time.Time       `grove:"created_at"`
	UpdatedAt              time.Time       `grove:"updated_at"`
}

func toSchemaVersionModel(v *canonical.SchemaVersion) *schemaVersionModel {
	attrs, _ := json.Marshal(v.Attributes) //nolint:errcheck // best-effort serialization
	return &schemaVersionModel{
		ID:                     v.ID.String(),
		EntityType:             v.EntityType,
		Version:                v.Version,
		BackwardCompatibleWith: v.BackwardCompatibleWith,
		Attributes:             attrs,
		Schema:                 v.Schema,
		IsDeprecated:           v.IsDeprecated,
		DeprecatedAt:           v.DeprecatedAt,
		CreatedAt:              v.CreatedAt,
		UpdatedAt:              v.UpdatedAt,
	}
}

func fromSchemaVersionModel(m *schemaVersionModel) (*canonical.SchemaVersion, error) {
	verID, err := id.ParseSchemaVersionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse schema version ID %q: %w", m.ID, err)
	}
	var attrs []canonical.Attribute
	if len(m.Attributes) > 0 {
		if err := json.Unmarshal(m.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("decode attributes for %q v%d: %w", m.EntityType, m.Version, err)
		}
	}
	return &canonical.SchemaVersion{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     verID,
		EntityType:             m.EntityType,
		Version:                m.Version,
		BackwardCompatibleWith: m.BackwardCompatibleWith,
		Attributes:             attrs,
		Schema:                 m.Schema,
		IsDeprecated:           m.IsDeprecated,
		DeprecatedAt:           m.DeprecatedAt,
	}, nil
}

// --- Mapping models ---

type mappingModel struct {
	grove.BaseModel `grove:"table:esgbridge_mappings"`

	ID              string          `grove:"id,pk"`
	ConnectorID     string          `grove:"connector_id"`
	EntityType      string          `grove:"entity_type"`
	SchemaVersion   int             `grove:"schema_version"`
	ExternalField   string          `grove:"external_field"`
	Attribute       string          `grove:"attribute"`
	Transform       string          `grove:"transform"`
	TransformParams json.RawMessage `grove:"transform_params,type:jsonb"`
	Required        bool            `grove:"required"`
	DefaultValue    json.RawMessage `grove:"default_value,type:jsonb"`
	Priority        int             `grove:"priority"`
	Active          bool            `grove:"active"`
	CreatedAt       time.Time       `grove:"created_at"`
	UpdatedAt       time.Time       `grove:"updated_at"`
}

func toMappingModel(mp *canonical.Mapping) *mappingModel {
	params, _ := json.Marshal(mp.TransformParams) //nolint:errcheck // best-effort serialization
	var def json.RawMessage
	if mp.Default != nil {
		def, _ = json.Marshal(mp.Default) //nolint:errcheck // best-effort serialization
	}
	return &mappingModel{
		ID:              mp.ID.String(),
		ConnectorID:     mp.ConnectorID.String(),
		EntityType:      mp.EntityType,
		SchemaVersion:   mp.SchemaVersion,
		ExternalField:   mp.ExternalField,
		Attribute:       mp.Attribute,
		Transform:       string(mp.Transform),
		TransformParams: params,
		Required:        mp.Required,
		DefaultValue:    def,
		Priority:        mp.Priority,
		Active:          mp.Active,
		CreatedAt:       mp.CreatedAt,
		UpdatedAt:       mp.UpdatedAt,
	}
}

func fromMappingModel(m *mappingModel) (*canonical.Mapping, error) {
	mapID, err := id.ParseMappingID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse mapping ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	var params map[string]any
	if len(m.TransformParams) > 0 {
		if err := json.Unmarshal(m.TransformParams, &params); err != nil {
			return nil, fmt.Errorf("decode transform params for mapping %q: %w", m.ID, err)
		}
	}
	var def any
	if len(m.DefaultValue) > 0 {
		if err := json.Unmarshal(m.DefaultValue, &def); err != nil {
			return nil, fmt.Errorf("decode default for mapping %q: %w", m.ID, err)
		}
	}
	return &canonical.Mapping{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              mapID,
		ConnectorID:     connID,
		EntityType:      m.EntityType,
		SchemaVersion:   m.SchemaVersion,
		ExternalField:   m.ExternalField,
		Attribute:       m.Attribute,
		Transform:       canonical.TransformType(m.Transform),
		TransformParams: params,
		Required:        m.Required,
		Default:         def,
		Priority:        m.Priority,
		Active:          m.Active,
	}, nil
}

// --- Canonical entity models ---

type entityModel struct {
	grove.BaseModel `grove:"table:esgbridge_entities"`

	ID            string          `grove:"id,pk"`
	ConnectorID   string          `grove:"connector_id"`
	ExternalID    string          `grove:"external_id"`
	EntityType    string          `grove:"entity_type"`
	SchemaVersion int             `grove:"schema_version"`
	Payload       json.RawMessage `grove:"payload,type:jsonb"`
	IsApproved    bool            `grove:"is_approved"`
	ApprovedBy    string          `grove:"approved_by"`
	ApprovedAt    *time.Time      `grove:"approved_at"`
	Revision      int             `grove:"revision"`
	CreatedAt     time.Time       `grove:"created_at"`
	UpdatedAt     time.Time       `grove:"updated_at"`
}

func toEntityModel(e *canonical.Entity) *entityModel {
	payload, _ := json.Marshal(e.Payload) //nolint:errcheck // best-effort serialization
	return &entityModel{
		ID:            e.ID.String(),
		ConnectorID:   e.ConnectorID.String(),
		ExternalID:    e.ExternalID,
		EntityType:    e.EntityType,
		SchemaVersion: e.SchemaVersion,
		Payload:       payload,
		IsApproved:    e.IsApproved,
		ApprovedBy:    e.ApprovedBy,
		ApprovedAt:    e.ApprovedAt,
		Revision:      e.Revision,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func fromEntityModel(m *entityModel) (*canonical.Entity, error) {
	entID, err := id.ParseEntityID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse entity ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	var payload map[string]any
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload for entity %q: %w", m.ID, err)
		}
	}
	return &canonical.Entity{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            entID,
		ConnectorID:   connID,
		ExternalID:    m.ExternalID,
		EntityType:    m.EntityType,
		SchemaVersion: m.SchemaVersion,
		Payload:       payload,
		IsApproved:    m.IsApproved,
		ApprovedBy:    m.ApprovedBy,
		ApprovedAt:    m.ApprovedAt,
		Revision:      m.Revision,
	}, nil
}

// --- Sync record models ---

type syncRecordModel struct {
	grove.BaseModel `grove:"table:esgbridge_sync_records"`

	ID                    string          `grove:"id,pk"`
	ConnectorID           string          `grove:"connector_id"`
	ExternalID            string          `grove:"external_id"`
	EntityType            string          `grove:"entity_type"`
	EntityID              string          `grove:"entity_id"`
	SchemaVersion         int             `grove:"schema_version"`
	Status                string          `grove:"status"`
	Resolution            string          `grove:"resolution"`
	OverwroteApprovedData bool            `grove:"overwrote_approved_data"`
	ApprovedOverrideBy    string          `grove:"approved_override_by"`
	Payload               json.RawMessage `grove:"payload,type:jsonb"`
	Error                 string          `grove:"error"`
	DurationMs            int64           `grove:"duration_ms"`
	CreatedAt             time.Time       `grove:"created_at"`
	UpdatedAt             time.Time       `grove:"updated_at"`
}

func toSyncRecordModel(rec *reconcile.SyncRecord) *syncRecordModel {
	m := &syncRecordModel{
		ID:                    rec.ID.String(),
		ConnectorID:           rec.ConnectorID.String(),
		ExternalID:            rec.ExternalID,
		EntityType:            rec.EntityType,
		SchemaVersion:         rec.SchemaVersion,
		Status:                string(rec.Status),
		Resolution:            string(rec.Resolution),
		OverwroteApprovedData: rec.OverwroteApprovedData,
		ApprovedOverrideBy:    rec.ApprovedOverrideBy,
		Payload:               rec.Payload,
		Error:                 rec.Error,
		DurationMs:            rec.DurationMs,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
	if !rec.EntityID.IsNil() {
		m.EntityID = rec.EntityID.String()
	}
	return m
}

func fromSyncRecordModel(m *syncRecordModel) (*reconcile.SyncRecord, error) {
	recID, err := id.ParseSyncRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse sync record ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	var entID id.ID
	if m.EntityID != "" {
		entID, err = id.ParseEntityID(m.EntityID)
		if err != nil {
			return nil, fmt.Errorf("parse entity ID %q: %w", m.EntityID, err)
		}
	}
	return &reconcile.SyncRecord{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                    recID,
		ConnectorID:           connID,
		ExternalID:            m.ExternalID,
		EntityType:            m.EntityType,
		EntityID:              entID,
		SchemaVersion:         m.SchemaVersion,
		Status:                reconcile.Status(m.Status),
		Resolution:            reconcile.ConflictResolution(m.Resolution),
		OverwroteApprovedData: m.OverwroteApprovedData,
		ApprovedOverrideBy:    m.ApprovedOverrideBy,
		Payload:               m.Payload,
		Error:                 m.Error,
		DurationMs:            m.DurationMs,
	}, nil
}
