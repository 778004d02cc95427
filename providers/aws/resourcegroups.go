package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	rgtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroups/types"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

// groupTagKey is the tag the group query collects on. Every resource the
// other adapters create carries it, so the group fills itself.
const groupTagKey = "slipway:group"

// groupAdapter provisions a tag-query resource group. AWS groups are
// views, not containers: creating one is cheap and updating it is never
// needed because membership follows the tag.
type groupAdapter struct {
	p *Provider
}

func (a *groupAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.NotFound(), err
	}

	_, err := a.p.clients.Groups.GetGroup(ctx, &resourcegroups.GetGroupInput{
		Group: strPtr(req.Name),
	})
	if err != nil {
		var notFound *rgtypes.NotFoundException
		if errors.As(err, &notFound) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("resource-groups", "GetGroup", err)
	}

	// The only desired attribute is the location, which for a group is
	// the region it lives in.
	return provider.Found(map[string]string{ir.KeyLocation: a.p.opts.Region}), nil
}

func (a *groupAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if observed.Exists {
		return provider.Result{}, nil
	}
	if err := a.p.wait(ctx); err != nil {
		return provider.Result{}, err
	}

	query := fmt.Sprintf(
		`{"ResourceTypeFilters":["AWS::AllSupported"],"TagFilters":[{"Key":%q,"Values":[%q]}]}`,
		groupTagKey, req.Name)

	_, err := a.p.clients.Groups.CreateGroup(ctx, &resourcegroups.CreateGroupInput{
		Name:        strPtr(req.Name),
		Description: strPtr(fmt.Sprintf("Resources of the %s deployment", req.Name)),
		ResourceQuery: &rgtypes.ResourceQuery{
			Type:  rgtypes.QueryTypeTagFilters10,
			Query: strPtr(query),
		},
		Tags: map[string]string{groupTagKey: req.Name},
	})
	if err != nil {
		return provider.Result{}, classify("resource-groups", "CreateGroup", err)
	}
	return provider.Result{}, nil
}
