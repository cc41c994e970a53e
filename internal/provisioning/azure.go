package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/systmms/credrotate/internal/azureauth"
	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// jsonPrefix marks a field value that is a JSON literal rather than a string.
const jsonPrefix = "json:"

// ResourcesAPI is the slice of the ARM generic resources client the backend
// uses. Long running operations are polled to completion by the implementation.
// This allows for mocking in tests.
type ResourcesAPI interface {
	GetByID(ctx context.Context, resourceID, apiVersion string) (armresources.GenericResource, error)
	CreateOrUpdateByID(ctx context.Context, resourceID, apiVersion string, resource armresources.GenericResource) (armresources.GenericResource, error)
	UpdateByID(ctx context.Context, resourceID, apiVersion string, resource armresources.GenericResource) (armresources.GenericResource, error)
	DeleteByID(ctx context.Context, resourceID, apiVersion string) error
}

// AzureOptions configures the Azure backend.
type AzureOptions struct {
	SubscriptionID string
	ResourceGroup  string
	Auth           azureauth.Options
	// Client replaces the ARM client, for tests.
	Client ResourcesAPI
}

// Azure provisions ARM resources through the generic resources API.
//
// Resource fields are flattened to dotted paths: location, kind, sku.name,
// sku.tier, sku.capacity, tags.<key> and properties.<path>. Values that are
// not JSON strings are rendered as "json:<literal>" and parsed back the same
// way, so properties.storage.storageSizeGB reads as "json:128".
type Azure struct {
	subscriptionID string
	resourceGroup  string
	client         ResourcesAPI
}

// NewAzure creates the backend. A client is built from opts.Auth unless
// opts.Client is set.
func NewAzure(opts AzureOptions) (*Azure, error) {
	if opts.SubscriptionID == "" {
		return nil, fmt.Errorf("azure provisioning: subscription_id is required")
	}
	if opts.ResourceGroup == "" {
		return nil, fmt.Errorf("azure provisioning: resource_group is required")
	}
	a := &Azure{
		subscriptionID: opts.SubscriptionID,
		resourceGroup:  opts.ResourceGroup,
		client:         opts.Client,
	}
	if a.client != nil {
		return a, nil
	}

	cred, err := azureauth.NewCredential(opts.Auth)
	if err != nil {
		return nil, err
	}
	client, err := armresources.NewClient(opts.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resources client: %w", err)
	}
	a.client = &armResourcesClient{client: client}
	return a, nil
}

// Name implements provisioning.API.
func (a *Azure) Name() string {
	return "azure"
}

// ID implements provisioning.API. The id is the ARM resource id with the API
// version appended as a query, since reads need it too.
//
// Child resources take their parent names from identity["parent"], separated
// by "/". identity["id"] overrides the computed ARM id.
func (a *Azure) ID(spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	if spec.APIVersion == "" {
		return "", fmt.Errorf("resource %s: api_version is required", spec.Name)
	}
	if armID := spec.Identity["id"]; armID != "" {
		return joinID(armID, spec.APIVersion), nil
	}

	parts := strings.Split(strings.Trim(spec.Type, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("resource %s: type %q is not <namespace>/<type>", spec.Name, spec.Type)
	}
	namespace, types := parts[0], parts[1:]

	name := spec.Identity["name"]
	if name == "" {
		name = spec.Name
	}
	var names []string
	if parent := spec.Identity["parent"]; parent != "" {
		names = strings.Split(strings.Trim(parent, "/"), "/")
	}
	names = append(names, name)
	if len(names) != len(types) {
		return "", fmt.Errorf("resource %s: type %s needs %d names, have %d (set identity.parent)",
			spec.Name, spec.Type, len(types), len(names))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "/subscriptions/%s/resourceGroups/%s/providers/%s", a.subscriptionID, a.resourceGroup, namespace)
	for i := range types {
		fmt.Fprintf(&b, "/%s/%s", types[i], names[i])
	}
	return joinID(b.String(), spec.APIVersion), nil
}

// Create implements provisioning.API.
func (a *Azure) Create(ctx context.Context, spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	id, err := a.ID(spec)
	if err != nil {
		return "", err
	}
	armID, version, err := splitID(id)
	if err != nil {
		return "", err
	}

	_, err = a.client.GetByID(ctx, armID, version)
	if err == nil {
		return "", fmt.Errorf("%w: %s", provisioning.ErrAlreadyExists, armID)
	}
	if err = a.mapError("read", id, err); !errors.Is(err, provisioning.ErrNotFound) {
		return "", err
	}

	fields := make(map[string]string, len(spec.Fields)+len(spec.Secrets))
	for k, v := range spec.Fields {
		fields[k] = v
	}
	for k, v := range spec.Secrets {
		fields[k] = v
	}
	resource, err := expand(fields)
	if err != nil {
		return "", fmt.Errorf("resource %s: %w", spec.Name, err)
	}

	if _, err := a.client.CreateOrUpdateByID(ctx, armID, version, resource); err != nil {
		return "", a.mapError("create", id, err)
	}
	return id, nil
}

// Read implements provisioning.API.
func (a *Azure) Read(ctx context.Context, id provisioning.ResourceID) (*provisioning.RemoteState, error) {
	armID, version, err := splitID(id)
	if err != nil {
		return nil, err
	}
	resource, err := a.client.GetByID(ctx, armID, version)
	if err != nil {
		return nil, a.mapError("read", id, err)
	}
	return &provisioning.RemoteState{ID: id, Fields: flatten(resource)}, nil
}

// Update implements provisioning.API. Only the given fields are sent; a
// missing resource is reported before the fields are checked.
func (a *Azure) Update(ctx context.Context, id provisioning.ResourceID, fields map[string]string) (*provisioning.RemoteState, error) {
	armID, version, err := splitID(id)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.GetByID(ctx, armID, version); err != nil {
		return nil, a.mapError("read", id, err)
	}
	patch, err := expand(fields)
	if err != nil {
		return nil, err
	}
	resource, err := a.client.UpdateByID(ctx, armID, version, patch)
	if err != nil {
		return nil, a.mapError("update", id, err)
	}
	return &provisioning.RemoteState{ID: id, Fields: flatten(resource)}, nil
}

// Destroy implements provisioning.API. ARM deletes of missing resources
// succeed, so existence is checked first.
func (a *Azure) Destroy(ctx context.Context, id provisioning.ResourceID) error {
	armID, version, err := splitID(id)
	if err != nil {
		return err
	}
	if _, err := a.client.GetByID(ctx, armID, version); err != nil {
		return a.mapError("read", id, err)
	}
	if err := a.client.DeleteByID(ctx, armID, version); err != nil {
		return a.mapError("destroy", id, err)
	}
	return nil
}

func (a *Azure) mapError(op string, id provisioning.ResourceID, err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", provisioning.ErrNotFound, id)
		case respErr.StatusCode == http.StatusTooManyRequests, respErr.StatusCode >= 500:
			return dserrors.RemoteUnavailable(fmt.Sprintf("%s %s", op, id), err)
		}
		return fmt.Errorf("azure %s %s failed (%s): %w", op, id, respErr.ErrorCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return dserrors.RemoteUnavailable(fmt.Sprintf("%s %s", op, id), err)
}

func joinID(armID, version string) provisioning.ResourceID {
	return provisioning.ResourceID(armID + "?api-version=" + version)
}

func splitID(id provisioning.ResourceID) (string, string, error) {
	armID, version, ok := strings.Cut(string(id), "?api-version=")
	if !ok || armID == "" || version == "" {
		return "", "", fmt.Errorf("malformed azure resource id %q", id)
	}
	return armID, version, nil
}

// flatten turns a generic resource into dotted fields.
func flatten(r armresources.GenericResource) map[string]string {
	fields := make(map[string]string)
	if r.Location != nil {
		fields["location"] = *r.Location
	}
	if r.Kind != nil {
		fields["kind"] = *r.Kind
	}
	if r.SKU != nil {
		if r.SKU.Name != nil {
			fields["sku.name"] = *r.SKU.Name
		}
		if r.SKU.Tier != nil {
			fields["sku.tier"] = *r.SKU.Tier
		}
		if r.SKU.Capacity != nil {
			fields["sku.capacity"] = jsonPrefix + strconv.Itoa(int(*r.SKU.Capacity))
		}
	}
	for k, v := range r.Tags {
		if v != nil {
			fields["tags."+k] = *v
		}
	}
	flattenValue(fields, "properties", r.Properties)
	return fields
}

func flattenValue(fields map[string]string, prefix string, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		fields[prefix] = val
	case map[string]any:
		for k, child := range val {
			flattenValue(fields, prefix+"."+k, child)
		}
	default:
		data, err := json.Marshal(val)
		if err == nil {
			fields[prefix] = jsonPrefix + string(data)
		}
	}
}

// expand is the inverse of flatten.
func expand(fields map[string]string) (armresources.GenericResource, error) {
	var r armresources.GenericResource
	var properties map[string]any

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := fields[key]
		switch {
		case key == "location":
			r.Location = to.Ptr(raw)
		case key == "kind":
			r.Kind = to.Ptr(raw)
		case key == "sku.name":
			sku(&r).Name = to.Ptr(raw)
		case key == "sku.tier":
			sku(&r).Tier = to.Ptr(raw)
		case key == "sku.capacity":
			n, err := strconv.Atoi(strings.TrimPrefix(raw, jsonPrefix))
			if err != nil {
				return r, fmt.Errorf("field sku.capacity: %q is not a number", raw)
			}
			sku(&r).Capacity = to.Ptr(int32(n))
		case strings.HasPrefix(key, "tags."):
			if r.Tags == nil {
				r.Tags = make(map[string]*string)
			}
			r.Tags[strings.TrimPrefix(key, "tags.")] = to.Ptr(raw)
		case strings.HasPrefix(key, "properties."):
			value, err := decodeValue(raw)
			if err != nil {
				return r, fmt.Errorf("field %s: %w", key, err)
			}
			if properties == nil {
				properties = make(map[string]any)
			}
			if err := setPath(properties, strings.Split(strings.TrimPrefix(key, "properties."), "."), value); err != nil {
				return r, fmt.Errorf("field %s: %w", key, err)
			}
		default:
			return r, fmt.Errorf("field %s is not supported by the azure backend", key)
		}
	}
	if properties != nil {
		r.Properties = properties
	}
	return r, nil
}

func sku(r *armresources.GenericResource) *armresources.SKU {
	if r.SKU == nil {
		r.SKU = &armresources.SKU{}
	}
	return r.SKU
}

func decodeValue(raw string) (any, error) {
	if !strings.HasPrefix(raw, jsonPrefix) {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(raw, jsonPrefix)), &v); err != nil {
		return nil, fmt.Errorf("invalid json literal: %w", err)
	}
	return v, nil
}

func setPath(m map[string]any, path []string, value any) error {
	for i, part := range path {
		if part == "" {
			return fmt.Errorf("empty path segment")
		}
		if i == len(path)-1 {
			m[part] = value
			return nil
		}
		next, ok := m[part]
		if !ok {
			child := make(map[string]any)
			m[part] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is both a value and an object", strings.Join(path[:i+1], "."))
		}
		m = child
	}
	return nil
}

// armResourcesClient adapts *armresources.Client to ResourcesAPI.
type armResourcesClient struct {
	client *armresources.Client
}

func (c *armResourcesClient) GetByID(ctx context.Context, resourceID, apiVersion string) (armresources.GenericResource, error) {
	resp, err := c.client.GetByID(ctx, resourceID, apiVersion, nil)
	return resp.GenericResource, err
}

func (c *armResourcesClient) CreateOrUpdateByID(ctx context.Context, resourceID, apiVersion string, resource armresources.GenericResource) (armresources.GenericResource, error) {
	poller, err := c.client.BeginCreateOrUpdateByID(ctx, resourceID, apiVersion, resource, nil)
	var result armresources.ClientCreateOrUpdateByIDResponse
	if err == nil {
		result, err = poller.PollUntilDone(ctx, nil)
	}
	return result.GenericResource, err
}

func (c *armResourcesClient) UpdateByID(ctx context.Context, resourceID, apiVersion string, resource armresources.GenericResource) (armresources.GenericResource, error) {
	poller, err := c.client.BeginUpdateByID(ctx, resourceID, apiVersion, resource, nil)
	var result armresources.ClientUpdateByIDResponse
	if err == nil {
		result, err = poller.PollUntilDone(ctx, nil)
	}
	return result.GenericResource, err
}

func (c *armResourcesClient) DeleteByID(ctx context.Context, resourceID, apiVersion string) error {
	poller, err := c.client.BeginDeleteByID(ctx, resourceID, apiVersion, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}
