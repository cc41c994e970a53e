package provisioning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// fakeResources is an in-memory ARM. Like the real service it never returns
// properties whose name contains "Password".
type fakeResources struct {
	mu        sync.Mutex
	resources map[string]armresources.GenericResource
	versions  map[string]string
	getErr    error
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		resources: make(map[string]armresources.GenericResource),
		versions:  make(map[string]string),
	}
}

func notFoundError() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
}

func (f *fakeResources) GetByID(ctx context.Context, resourceID, apiVersion string) (armresources.GenericResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		err := f.getErr
		f.getErr = nil
		return armresources.GenericResource{}, err
	}
	r, ok := f.resources[strings.ToLower(resourceID)]
	if !ok {
		return armresources.GenericResource{}, notFoundError()
	}
	return r, nil
}

func (f *fakeResources) CreateOrUpdateByID(ctx context.Context, resourceID, apiVersion string, resource armresources.GenericResource) (armresources.GenericResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if props, ok := resource.Properties.(map[string]any); ok {
		for k := range props {
			if strings.Contains(k, "Password") {
				delete(props, k)
			}
		}
	}
	resource.ID = to.Ptr(resourceID)
	f.resources[strings.ToLower(resourceID)] = resource
	f.versions[strings.ToLower(resourceID)] = apiVersion
	return resource, nil
}

func (f *fakeResources) UpdateByID(ctx context.Context, resourceID, apiVersion string, patch armresources.GenericResource) (armresources.GenericResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[strings.ToLower(resourceID)]
	if !ok {
		return armresources.GenericResource{}, notFoundError()
	}
	if patch.Location != nil {
		r.Location = patch.Location
	}
	if patch.SKU != nil {
		r.SKU = patch.SKU
	}
	for k, v := range patch.Tags {
		if r.Tags == nil {
			r.Tags = make(map[string]*string)
		}
		r.Tags[k] = v
	}
	if props, ok := patch.Properties.(map[string]any); ok {
		current, _ := r.Properties.(map[string]any)
		if current == nil {
			current = make(map[string]any)
		}
		mergeMaps(current, props)
		r.Properties = current
	}
	f.resources[strings.ToLower(resourceID)] = r
	return r, nil
}

func (f *fakeResources) DeleteByID(ctx context.Context, resourceID, apiVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resources, strings.ToLower(resourceID))
	return nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if child, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeMaps(existing, child)
				continue
			}
		}
		dst[k] = v
	}
}

func newTestAzure(t *testing.T, fake *fakeResources) *Azure {
	t.Helper()
	a, err := NewAzure(AzureOptions{SubscriptionID: "sub-1", ResourceGroup: "rg-demo", Client: fake})
	require.NoError(t, err)
	return a
}

func TestAzureContract(t *testing.T) {
	provisioning.RunContractTests(t, provisioning.ContractTest{
		CreateAPI: func(t *testing.T) provisioning.API {
			return newTestAzure(t, newFakeResources())
		},
		Spec: func() provisioning.ResourceSpec {
			return provisioning.ResourceSpec{
				Name:       "server",
				Type:       "Microsoft.DBforPostgreSQL/flexibleServers",
				APIVersion: "2022-12-01",
				Identity:   map[string]string{"name": "pg-contract"},
				Fields: map[string]string{
					"location":                      "westeurope",
					"sku.name":                      "Standard_B1ms",
					"properties.version":            "14",
					"properties.administratorLogin": "aContract",
				},
				Secrets: map[string]string{
					"properties.administratorLoginPassword": "Contract-Pa55!",
				},
			}
		},
	})
}

func TestAzureID(t *testing.T) {
	t.Parallel()

	a := newTestAzure(t, newFakeResources())

	tests := []struct {
		name    string
		spec    provisioning.ResourceSpec
		want    provisioning.ResourceID
		wantErr bool
	}{
		{
			name: "top level",
			spec: provisioning.ResourceSpec{Name: "server", Type: "Microsoft.DBforPostgreSQL/flexibleServers", APIVersion: "2022-12-01",
				Identity: map[string]string{"name": "pg-demo"}},
			want: "/subscriptions/sub-1/resourceGroups/rg-demo/providers/Microsoft.DBforPostgreSQL/flexibleServers/pg-demo?api-version=2022-12-01",
		},
		{
			name: "child",
			spec: provisioning.ResourceSpec{Name: "allow-all", Type: "Microsoft.DBforPostgreSQL/flexibleServers/firewallRules", APIVersion: "2022-12-01",
				Identity: map[string]string{"parent": "pg-demo"}},
			want: "/subscriptions/sub-1/resourceGroups/rg-demo/providers/Microsoft.DBforPostgreSQL/flexibleServers/pg-demo/firewallRules/allow-all?api-version=2022-12-01",
		},
		{
			name: "explicit id",
			spec: provisioning.ResourceSpec{Name: "x", Type: "A/b", APIVersion: "v1",
				Identity: map[string]string{"id": "/subscriptions/other/resourceGroups/rg/providers/A/b/x"}},
			want: "/subscriptions/other/resourceGroups/rg/providers/A/b/x?api-version=v1",
		},
		{
			name:    "child without parent",
			spec:    provisioning.ResourceSpec{Name: "rule", Type: "A/servers/rules", APIVersion: "v1"},
			wantErr: true,
		},
		{
			name:    "missing api version",
			spec:    provisioning.ResourceSpec{Name: "server", Type: "A/servers"},
			wantErr: true,
		},
		{
			name:    "bad type",
			spec:    provisioning.ResourceSpec{Name: "server", Type: "servers", APIVersion: "v1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ID(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAzureCreateSendsNestedProperties(t *testing.T) {
	t.Parallel()

	fake := newFakeResources()
	a := newTestAzure(t, fake)

	id, err := a.Create(context.Background(), provisioning.ResourceSpec{
		Name:       "server",
		Type:       "Microsoft.DBforPostgreSQL/flexibleServers",
		APIVersion: "2022-12-01",
		Fields: map[string]string{
			"location":                              "westeurope",
			"tags.credrotate-credential":            "3-abc",
			"properties.storage.storageSizeGB":      "json:128",
			"properties.highAvailability.mode":      "Disabled",
			"properties.administratorLogin":         "aK3m9Q",
			"properties.network.publicNetworkAccess": "Enabled",
		},
	})
	require.NoError(t, err)

	armID, _, err := splitID(id)
	require.NoError(t, err)
	stored := fake.resources[strings.ToLower(armID)]
	props := stored.Properties.(map[string]any)
	assert.Equal(t, float64(128), props["storage"].(map[string]any)["storageSizeGB"])
	assert.Equal(t, "Disabled", props["highAvailability"].(map[string]any)["mode"])
	assert.Equal(t, "3-abc", *stored.Tags["credrotate-credential"])

	state, err := a.Read(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "json:128", state.Fields["properties.storage.storageSizeGB"])
	assert.Equal(t, "westeurope", state.Fields["location"])
}

func TestAzureErrorMapping(t *testing.T) {
	t.Parallel()

	fake := newFakeResources()
	a := newTestAzure(t, fake)
	id := joinID("/subscriptions/sub-1/resourceGroups/rg-demo/providers/A/b/c", "v1")

	fake.getErr = &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}
	_, err := a.Read(context.Background(), id)
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)

	fake.getErr = &azcore.ResponseError{StatusCode: http.StatusTooManyRequests}
	_, err = a.Read(context.Background(), id)
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)

	fake.getErr = errors.New("dial tcp: connection refused")
	_, err = a.Read(context.Background(), id)
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)

	fake.getErr = &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "AuthorizationFailed"}
	_, err = a.Read(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)
	assert.Contains(t, err.Error(), "AuthorizationFailed")

	_, err = a.Read(context.Background(), id)
	assert.ErrorIs(t, err, provisioning.ErrNotFound)

	_, err = a.Read(context.Background(), "no-version")
	assert.Error(t, err)
}

func TestAzureUpdateMissingResource(t *testing.T) {
	t.Parallel()

	fake := newFakeResources()
	a := newTestAzure(t, fake)
	id := joinID("/subscriptions/sub-1/resourceGroups/rg-demo/providers/A/b/c", "v1")

	_, err := a.Update(context.Background(), id, map[string]string{"zone": "1"})
	assert.ErrorIs(t, err, provisioning.ErrNotFound)

	_, err = a.Update(context.Background(), id, map[string]string{"properties.a": "x"})
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
}

func TestExpandRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := expand(map[string]string{"zone": "1"})
	assert.Error(t, err)

	_, err = expand(map[string]string{"properties.a": "x", "properties.a.b": "y"})
	assert.Error(t, err)

	_, err = expand(map[string]string{"properties.a": "json:{bad"})
	assert.Error(t, err)

	r, err := expand(map[string]string{"sku.capacity": "json:2", "kind": "v2"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), *r.SKU.Capacity)
	assert.Equal(t, map[string]string{"sku.capacity": "json:2", "kind": "v2"}, flatten(r))
}

func TestNewAzureValidation(t *testing.T) {
	t.Parallel()

	_, err := NewAzure(AzureOptions{ResourceGroup: "rg"})
	assert.Error(t, err)
	_, err = NewAzure(AzureOptions{SubscriptionID: "s"})
	assert.Error(t, err)
}
