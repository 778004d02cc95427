package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	rgtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroups/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

type fakeGroups struct {
	getErr  error
	created []*resourcegroups.CreateGroupInput
}

func (f *fakeGroups) GetGroup(ctx context.Context, params *resourcegroups.GetGroupInput, optFns ...func(*resourcegroups.Options)) (*resourcegroups.GetGroupOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &resourcegroups.GetGroupOutput{Group: &rgtypes.Group{Name: params.Group}}, nil
}

func (f *fakeGroups) CreateGroup(ctx context.Context, params *resourcegroups.CreateGroupInput, optFns ...func(*resourcegroups.Options)) (*resourcegroups.CreateGroupOutput, error) {
	f.created = append(f.created, params)
	return &resourcegroups.CreateGroupOutput{}, nil
}

func TestGroupDescribe_MissingGroupIsNotFound(t *testing.T) {
	fake := &fakeGroups{getErr: &rgtypes.NotFoundException{Message: strPtr("no such group")}}
	a := &groupAdapter{New(Clients{Groups: fake}, testOptions())}

	obs, err := a.Describe(context.Background(), provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"})
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestGroupDescribe_ReportsRegionAsLocation(t *testing.T) {
	a := &groupAdapter{New(Clients{Groups: &fakeGroups{}}, testOptions())}

	obs, err := a.Describe(context.Background(), provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"})
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.Equal(t, "eu-west-1", obs.Attrs[ir.KeyLocation])
}

func TestGroupCreate_BuildsTagQuery(t *testing.T) {
	fake := &fakeGroups{}
	a := &groupAdapter{New(Clients{Groups: fake}, testOptions())}

	_, err := a.CreateOrUpdate(context.Background(),
		provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"},
		provider.NotFound())
	require.NoError(t, err)
	require.Len(t, fake.created, 1)

	in := fake.created[0]
	assert.Equal(t, "talentradar-rg", stringValue(in.Name))
	require.NotNil(t, in.ResourceQuery)
	assert.Equal(t, rgtypes.QueryTypeTagFilters10, in.ResourceQuery.Type)
	assert.Contains(t, stringValue(in.ResourceQuery.Query), `"slipway:group"`)
	assert.Contains(t, stringValue(in.ResourceQuery.Query), `"talentradar-rg"`)
	assert.Equal(t, "talentradar-rg", in.Tags[groupTagKey])
}

func TestGroupCreate_ExistingGroupIsLeftAlone(t *testing.T) {
	fake := &fakeGroups{}
	a := &groupAdapter{New(Clients{Groups: fake}, testOptions())}

	_, err := a.CreateOrUpdate(context.Background(),
		provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"},
		provider.Found(map[string]string{ir.KeyLocation: "eu-west-1"}))
	require.NoError(t, err)
	assert.Empty(t, fake.created)
}
