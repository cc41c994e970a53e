package provisioning

import (
	"context"
	"errors"
	"testing"
)

// ContractTest is the behaviour every API implementation must show.
type ContractTest struct {
	// CreateAPI returns a fresh, empty backend.
	CreateAPI func(t *testing.T) API
	// Spec returns a resource spec the backend accepts. Defaults to a
	// generic server spec.
	Spec func() ResourceSpec
}

// RunContractTests runs the provisioning contract suite.
func RunContractTests(t *testing.T, contract ContractTest) {
	spec := contract.Spec
	if spec == nil {
		spec = func() ResourceSpec {
			return ResourceSpec{
				Name:     "server",
				Type:     "Test/servers",
				Identity: map[string]string{"name": "contract-server"},
				Fields: map[string]string{
					"location":                      "westeurope",
					"properties.administratorLogin": "aContract",
				},
				Secrets: map[string]string{
					"properties.administratorLoginPassword": "Contract-Pa55!",
				},
			}
		}
	}

	t.Run("Contract", func(t *testing.T) {
		t.Run("CreateReadDestroy", func(t *testing.T) {
			testCreateReadDestroy(t, contract.CreateAPI(t), spec())
		})
		t.Run("CreateTwiceFails", func(t *testing.T) {
			testCreateTwice(t, contract.CreateAPI(t), spec())
		})
		t.Run("Update", func(t *testing.T) {
			testUpdate(t, contract.CreateAPI(t), spec())
		})
		t.Run("SecretsNotReadable", func(t *testing.T) {
			testSecretsHidden(t, contract.CreateAPI(t), spec())
		})
		t.Run("NotFound", func(t *testing.T) {
			testNotFound(t, contract.CreateAPI(t), spec())
		})
	})
}

func testCreateReadDestroy(t *testing.T, api API, spec ResourceSpec) {
	ctx := context.Background()

	want, err := api.ID(spec)
	if err != nil {
		t.Fatalf("ID() error = %v", err)
	}
	id, err := api.Create(ctx, spec)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != want {
		t.Errorf("Create() id = %q, ID() = %q", id, want)
	}

	state, err := api.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	for k, v := range spec.Fields {
		if state.Fields[k] != v {
			t.Errorf("Read() field %s = %q, want %q", k, state.Fields[k], v)
		}
	}

	if err := api.Destroy(ctx, id); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := api.Read(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() after Destroy error = %v, want ErrNotFound", err)
	}
}

func testCreateTwice(t *testing.T, api API, spec ResourceSpec) {
	ctx := context.Background()
	if _, err := api.Create(ctx, spec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := api.Create(ctx, spec); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create() error = %v, want ErrAlreadyExists", err)
	}
}

func testUpdate(t *testing.T, api API, spec ResourceSpec) {
	ctx := context.Background()
	id, err := api.Create(ctx, spec)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	state, err := api.Update(ctx, id, map[string]string{"tags.owner": "dba"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if state.Fields["tags.owner"] != "dba" {
		t.Errorf("Update() tags.owner = %q, want dba", state.Fields["tags.owner"])
	}
	for k, v := range spec.Fields {
		if state.Fields[k] != v {
			t.Errorf("Update() dropped field %s", k)
		}
	}
}

func testSecretsHidden(t *testing.T, api API, spec ResourceSpec) {
	ctx := context.Background()
	id, err := api.Create(ctx, spec)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	state, err := api.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	for field, secret := range spec.Secrets {
		if _, ok := state.Fields[field]; ok {
			t.Errorf("Read() exposes write-only field %s", field)
		}
		for k, v := range state.Fields {
			if v == secret {
				t.Errorf("Read() field %s holds a secret value", k)
			}
		}
	}
}

func testNotFound(t *testing.T, api API, spec ResourceSpec) {
	ctx := context.Background()
	id, err := api.ID(spec)
	if err != nil {
		t.Fatalf("ID() error = %v", err)
	}
	if _, err := api.Read(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
	if _, err := api.Update(ctx, id, map[string]string{"a": "b"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := api.Destroy(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Destroy() error = %v, want ErrNotFound", err)
	}
}
