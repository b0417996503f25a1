package dnssync

import (
	"context"

	"github.com/cloudflare/cloudflare-go"

	"github.com/voicepipe/voicepipe/errors"
)

// Record is one managed A record as the reconciler sees it.
type Record struct {
	ID      string
	Name    string // fully qualified hostname
	Content string // IPv4 address
	Proxied bool
}

// Provider is the DNS backend the reconciler converges against. The fake in
// the tests implements it; production uses CloudflareProvider.
type Provider interface {
	ListARecords(ctx context.Context) ([]Record, error)
	CreateARecord(ctx context.Context, name, content string, proxied bool) error
	UpdateARecord(ctx context.Context, id, name, content string, proxied bool) error
	DeleteARecord(ctx context.Context, id string) error
}

// CloudflareProvider implements Provider for one Cloudflare zone.
type CloudflareProvider struct {
	api    *cloudflare.API
	zoneID *cloudflare.ResourceContainer
}

// NewCloudflareProvider authenticates with an API token and resolves the
// zone id for the base domain.
func NewCloudflareProvider(ctx context.Context, token, baseDomain string) (*CloudflareProvider, error) {
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cloudflare client")
	}

	zoneID, err := api.ZoneIDByName(baseDomain)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve zone for %s", baseDomain)
	}

	return &CloudflareProvider{
		api:    api,
		zoneID: cloudflare.ZoneIdentifier(zoneID),
	}, nil
}

func (p *CloudflareProvider) ListARecords(ctx context.Context) ([]Record, error) {
	recs, _, err := p.api.ListDNSRecords(ctx, p.zoneID, cloudflare.ListDNSRecordsParams{
		Type: "A",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list DNS records")
	}

	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		proxied := r.Proxied != nil && *r.Proxied
		out = append(out, Record{
			ID:      r.ID,
			Name:    r.Name,
			Content: r.Content,
			Proxied: proxied,
		})
	}
	return out, nil
}

func (p *CloudflareProvider) CreateARecord(ctx context.Context, name, content string, proxied bool) error {
	_, err := p.api.CreateDNSRecord(ctx, p.zoneID, cloudflare.CreateDNSRecordParams{
		Type:    "A",
		Name:    name,
		Content: content,
		TTL:     1, // automatic
		Proxied: &proxied,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create record %s", name)
	}
	return nil
}

func (p *CloudflareProvider) UpdateARecord(ctx context.Context, id, name, content string, proxied bool) error {
	_, err := p.api.UpdateDNSRecord(ctx, p.zoneID, cloudflare.UpdateDNSRecordParams{
		ID:      id,
		Type:    "A",
		Name:    name,
		Content: content,
		TTL:     1,
		Proxied: &proxied,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update record %s", name)
	}
	return nil
}

func (p *CloudflareProvider) DeleteARecord(ctx context.Context, id string) error {
	if err := p.api.DeleteDNSRecord(ctx, p.zoneID, id); err != nil {
		return errors.Wrapf(err, "failed to delete record %s", id)
	}
	return nil
}
