package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/kvstore"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/secgroup"
)

type fakeBackend struct {
	servers       map[string]openstackclient.Server
	flavors       map[string]openstackclient.Flavor
	networks      map[string]openstackclient.Network
	deletedServer string
	keypairsDeleted []string
	nextServerID  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		servers:  make(map[string]openstackclient.Server),
		flavors:  map[string]openstackclient.Flavor{"de.NBI.default": {ID: "flavor-1", Name: "de.NBI.default"}},
		networks: map[string]openstackclient.Network{"public": {ID: "net-1", Name: "public"}},
	}
}

func (f *fakeBackend) CreateServer(_ context.Context, opts openstackclient.CreateServerOpts) (openstackclient.Server, error) {
	f.nextServerID++
	id := "server-id"
	srv := openstackclient.Server{ID: id, Name: opts.Name, VMState: "active", FixedIPv4: "10.0.0.9"}
	f.servers[id] = srv
	return srv, nil
}

func (f *fakeBackend) GetServer(_ context.Context, id string) (openstackclient.Server, error) {
	srv, ok := f.servers[id]
	if !ok {
		return openstackclient.Server{}, apperr.NewWithID(apperr.KindServerNotFound, "not found", id)
	}
	return srv, nil
}

func (f *fakeBackend) DeleteServer(_ context.Context, id string) error {
	f.deletedServer = id
	delete(f.servers, id)
	return nil
}

func (f *fakeBackend) GetFlavorByName(_ context.Context, name string) (openstackclient.Flavor, error) {
	flavor, ok := f.flavors[name]
	if !ok {
		return openstackclient.Flavor{}, apperr.NewWithID(apperr.KindFlavorNotFound, "not found", name)
	}
	return flavor, nil
}

func (f *fakeBackend) GetFlavor(_ context.Context, id string) (openstackclient.Flavor, error) {
	return openstackclient.Flavor{ID: id}, nil
}

func (f *fakeBackend) GetNetworkByName(_ context.Context, name string) (openstackclient.Network, error) {
	net, ok := f.networks[name]
	if !ok {
		return openstackclient.Network{}, apperr.NewWithID(apperr.KindBackendNotFound, "not found", name)
	}
	return net, nil
}

func (f *fakeBackend) ImportKeypair(_ context.Context, name, publicKey string) (openstackclient.Keypair, error) {
	return openstackclient.Keypair{Name: name, PublicKey: publicKey}, nil
}

func (f *fakeBackend) CreateKeypair(_ context.Context, name string) (openstackclient.Keypair, error) {
	return openstackclient.Keypair{Name: name, PrivateKey: "generated-private-key"}, nil
}

func (f *fakeBackend) DeleteKeypair(_ context.Context, name string) error {
	f.keypairsDeleted = append(f.keypairsDeleted, name)
	return nil
}

type fakeImageBackend struct{}

func (fakeImageBackend) GetImage(_ context.Context, id string) (openstackclient.Image, error) {
	return openstackclient.Image{ID: id, Status: "active"}, nil
}
func (fakeImageBackend) GetImageByName(_ context.Context, name string) ([]openstackclient.Image, error) {
	return []openstackclient.Image{{ID: "img-" + name, Status: "active"}}, nil
}
func (fakeImageBackend) ListImages(_ context.Context, _ string) ([]openstackclient.Image, error) {
	return nil, nil
}

type fakeSGBackend struct{}

func (fakeSGBackend) CreateSecurityGroup(_ context.Context, opts openstackclient.CreateSecurityGroupOpts) (openstackclient.SecurityGroup, error) {
	return openstackclient.SecurityGroup{ID: opts.Name + "-id", Name: opts.Name}, nil
}
func (fakeSGBackend) GetSecurityGroupByName(_ context.Context, name string) (openstackclient.SecurityGroup, error) {
	return openstackclient.SecurityGroup{}, apperr.NewWithID(apperr.KindSecurityGroupNotFound, "not found", name)
}
func (fakeSGBackend) DeleteSecurityGroup(_ context.Context, _ string) error { return nil }
func (fakeSGBackend) CreateSecurityGroupRule(_ context.Context, _ openstackclient.CreateSecurityGroupRuleOpts) (openstackclient.SecurityGroupRule, error) {
	return openstackclient.SecurityGroupRule{ID: "rule-1"}, nil
}
func (fakeSGBackend) AddSecurityGroupToServer(_ context.Context, _, _ string) error    { return nil }
func (fakeSGBackend) RemoveSecurityGroupFromServer(_ context.Context, _, _ string) error { return nil }
func (fakeSGBackend) GetServers(_ context.Context) ([]openstackclient.Server, error)   { return nil, nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeBackend) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := kvstore.New(rdb)

	backend := newFakeBackend()
	imgResolver := images.New(fakeImageBackend{})
	sgResolver := secgroup.New(fakeSGBackend{}, nil, "gateway-sg", "forc-sg")

	return New(backend, imgResolver, sgResolver, store, "203.0.113.1"), backend
}

func TestStartServerDeletesKeypairAfterCreate(t *testing.T) {
	orch, backend := newTestOrchestrator(t)

	vmID, err := orch.StartServer(context.Background(), StartServerInput{
		Flavor:     "de.NBI.default",
		Image:      "ubuntu",
		PublicKey:  "ssh-ed25519 AAAA",
		ServerName: "alice-01",
		Metadata:   Metadata{ProjectName: "alice", ProjectID: "proj-1"},
		NetworkName: "public",
	})
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	if vmID != "server-id" {
		t.Errorf("vmID = %q", vmID)
	}
	if len(backend.keypairsDeleted) != 1 {
		t.Errorf("expected keypair to be deleted exactly once, got %v", backend.keypairsDeleted)
	}
}

func TestStartServerWithCustomKeyRecordsPrivateKeyInKV(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	vmID, privateKey, err := orch.StartServerWithCustomKey(context.Background(), StartServerInput{
		Flavor:      "de.NBI.default",
		Image:       "ubuntu",
		ServerName:  "bob-01",
		Metadata:    Metadata{ProjectName: "bob", ProjectID: "proj-2"},
		NetworkName: "public",
	})
	if err != nil {
		t.Fatalf("StartServerWithCustomKey: %v", err)
	}
	if privateKey != "generated-private-key" {
		t.Errorf("privateKey = %q", privateKey)
	}
	if vmID != "server-id" {
		t.Errorf("vmID = %q", vmID)
	}
	rec, err := orch.store.Get(context.Background(), vmID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if rec.PrivateKey != "generated-private-key" {
		t.Errorf("KV record PrivateKey = %q, want generated-private-key", rec.PrivateKey)
	}
}

func TestDeleteServerRefusesDuringImageSnapshot(t *testing.T) {
	orch, backend := newTestOrchestrator(t)
	backend.servers["vm-1"] = openstackclient.Server{ID: "vm-1", TaskState: "image_snapshot"}

	err := orch.DeleteServer(context.Background(), "vm-1", func(name string) (string, error) { return name + "-id", nil })
	if !apperr.Is(err, apperr.KindOpenStackConflict) {
		t.Fatalf("expected KindOpenStackConflict, got %v", err)
	}
}

func TestGetServerResolvesImageAndFlavorSnapshots(t *testing.T) {
	orch, backend := newTestOrchestrator(t)
	backend.servers["vm-5"] = openstackclient.Server{
		ID: "vm-5", VMState: "building", ImageID: "img-ubuntu", FlavorID: "flavor-1",
	}

	server, err := orch.GetServer(context.Background(), "vm-5", nil)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if server.Image.ID != "img-ubuntu" {
		t.Errorf("Image.ID = %q, want img-ubuntu", server.Image.ID)
	}
	if server.Flavor.ID != "flavor-1" {
		t.Errorf("Flavor.ID = %q, want flavor-1", server.Flavor.ID)
	}
}

func TestDeleteServerSucceedsWithoutConflict(t *testing.T) {
	orch, backend := newTestOrchestrator(t)
	backend.servers["vm-2"] = openstackclient.Server{ID: "vm-2", TaskState: ""}

	err := orch.DeleteServer(context.Background(), "vm-2", func(name string) (string, error) { return name + "-id", nil })
	if err != nil {
		t.Fatalf("DeleteServer: %v", err)
	}
	if backend.deletedServer != "vm-2" {
		t.Errorf("deletedServer = %q, want vm-2", backend.deletedServer)
	}
}
