// Package resolver expands a campaign's recipient descriptor into a
// concrete, deduplicated target list. Expansion is pure: job creation from
// the returned targets happens exactly once at campaign creation, so later
// group or label membership changes never alter a scheduled campaign.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sanskar85/whatsapp-api/internal/core"
)

// Target is one addressable recipient with its template variable bindings.
type Target struct {
	Address   string
	Variables map[string]string
}

// Source describes where a campaign's recipients come from.
type Source struct {
	Type     core.SourceType
	Numbers  []string
	CSVID    string
	GroupIDs []string
	LabelIDs []string
}

type Member struct {
	Name   string
	Number string
}

// GroupProvider lists the members of a contact group.
type GroupProvider interface {
	ListMembers(ctx context.Context, tenant, groupID string) ([]Member, error)
}

// LabelProvider lists the chats under a business label. Implementations
// return core.ErrBusinessAccountRequired when the tenant's account has no
// label support.
type LabelProvider interface {
	ListRecipients(ctx context.Context, tenant, labelID string) ([]Member, error)
}

// CSVProvider loads a previously uploaded CSV by id.
type CSVProvider interface {
	Load(ctx context.Context, tenant, csvID string) (headers []string, rows [][]string, err error)
}

type Resolver struct {
	Groups GroupProvider
	Labels LabelProvider
	CSVs   CSVProvider
}

// Resolve expands the source into targets, deduplicated by address with
// first-occurrence order preserved. skipped counts CSV rows dropped for an
// unparseable address. An empty expansion is an error: a campaign with no
// recipients must not be created.
func (r *Resolver) Resolve(ctx context.Context, tenant string, src Source) (targets []Target, skipped int, err error) {
	switch src.Type {
	case core.SourceNumbers:
		targets, skipped = fromNumbers(src.Numbers)
	case core.SourceCSV:
		targets, skipped, err = r.fromCSV(ctx, tenant, src.CSVID)
	case core.SourceGroup:
		// Sending to the group chats themselves: the group ids are the
		// addresses, no per-recipient expansion.
		for _, id := range src.GroupIDs {
			if id != "" {
				targets = append(targets, Target{Address: id})
			}
		}
	case core.SourceGroupIndividual:
		targets, err = r.fromGroups(ctx, tenant, src.GroupIDs)
	case core.SourceLabel:
		targets, err = r.fromLabels(ctx, tenant, src.LabelIDs)
	default:
		return nil, 0, fmt.Errorf("%w: unknown recipient type %q", core.ErrInvalidFields, src.Type)
	}
	if err != nil {
		return nil, 0, err
	}

	targets = dedupe(targets)
	if len(targets) == 0 {
		return nil, skipped, core.ErrEmptyRecipients
	}
	return targets, skipped, nil
}

func fromNumbers(numbers []string) ([]Target, int) {
	var out []Target
	var skipped int
	for _, n := range numbers {
		addr, ok := NormalizeNumber(n)
		if !ok {
			skipped++
			continue
		}
		out = append(out, Target{Address: addr})
	}
	return out, skipped
}

func (r *Resolver) fromCSV(ctx context.Context, tenant, csvID string) ([]Target, int, error) {
	if r.CSVs == nil {
		return nil, 0, fmt.Errorf("%w: no csv source configured", core.ErrSourceUnavailable)
	}
	headers, rows, err := r.CSVs.Load(ctx, tenant, csvID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: load csv %s: %v", core.ErrSourceUnavailable, csvID, err)
	}
	if len(headers) == 0 {
		return nil, 0, core.ErrEmptyRecipients
	}

	var out []Target
	var skipped int
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		addr, ok := NormalizeNumber(row[0])
		if !ok {
			skipped++
			continue
		}
		vars := make(map[string]string, len(headers)-1)
		for i := 1; i < len(headers) && i < len(row); i++ {
			vars[headers[i]] = row[i]
		}
		out = append(out, Target{Address: addr, Variables: vars})
	}
	return out, skipped, nil
}

func (r *Resolver) fromGroups(ctx context.Context, tenant string, groupIDs []string) ([]Target, error) {
	if r.Groups == nil {
		return nil, fmt.Errorf("%w: no group source configured", core.ErrSourceUnavailable)
	}
	var out []Target
	for _, id := range groupIDs {
		members, err := r.Groups.ListMembers(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("%w: group %s: %v", core.ErrSourceUnavailable, id, err)
		}
		out = append(out, fromMembers(members)...)
	}
	return out, nil
}

func (r *Resolver) fromLabels(ctx context.Context, tenant string, labelIDs []string) ([]Target, error) {
	if r.Labels == nil {
		return nil, fmt.Errorf("%w: no label source configured", core.ErrSourceUnavailable)
	}
	var out []Target
	for _, id := range labelIDs {
		members, err := r.Labels.ListRecipients(ctx, tenant, id)
		if err != nil {
			if errors.Is(err, core.ErrBusinessAccountRequired) {
				return nil, core.ErrBusinessAccountRequired
			}
			return nil, fmt.Errorf("%w: label %s: %v", core.ErrSourceUnavailable, id, err)
		}
		out = append(out, fromMembers(members)...)
	}
	return out, nil
}

func fromMembers(members []Member) []Target {
	var out []Target
	for _, m := range members {
		addr, ok := NormalizeNumber(m.Number)
		if !ok {
			continue
		}
		out = append(out, Target{Address: addr, Variables: map[string]string{"name": m.Name}})
	}
	return out
}

// NormalizeNumber strips everything but digits and accepts 7 to 15 digit
// results (E.164 upper bound).
func NormalizeNumber(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if len(n) < 7 || len(n) > 15 {
		return "", false
	}
	return n, true
}

func dedupe(in []Target) []Target {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, t := range in {
		if _, ok := seen[t.Address]; ok {
			continue
		}
		seen[t.Address] = struct{}{}
		out = append(out, t)
	}
	return out
}
