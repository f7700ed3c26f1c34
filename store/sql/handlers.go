package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func subscriptionHandlers() repository.ModelHandlers[*subscriptionRecord] {
	return repository.ModelHandlers[*subscriptionRecord]{
		NewRecord: func() *subscriptionRecord {
			return &subscriptionRecord{}
		},
		GetID: func(record *subscriptionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *subscriptionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *subscriptionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func endpointHandlers() repository.ModelHandlers[*endpointRecord] {
	return repository.ModelHandlers[*endpointRecord]{
		NewRecord: func() *endpointRecord {
			return &endpointRecord{}
		},
		GetID: func(record *endpointRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *endpointRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *endpointRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func deliveryAttemptHandlers() repository.ModelHandlers[*deliveryAttemptRecord] {
	return repository.ModelHandlers[*deliveryAttemptRecord]{
		NewRecord: func() *deliveryAttemptRecord {
			return &deliveryAttemptRecord{}
		},
		GetID: func(record *deliveryAttemptRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryAttemptRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deliveryAttemptRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
