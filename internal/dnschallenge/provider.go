package dnschallenge

import "context"

// Provider is the managed DNS provider boundary. Implementations create and
// delete TXT records in one zone; DeleteTXT returns ErrRecordNotFound when
// the record is already gone, which callers treat as success.
type Provider interface {
	CreateTXT(ctx context.Context, zoneID, fqdn, value string, ttl int) (recordID string, err error)
	DeleteTXT(ctx context.Context, zoneID, recordID string) error
}
