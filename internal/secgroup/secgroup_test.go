package secgroup

import (
	"context"
	"sync"
	"testing"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

type fakeBackend struct {
	mu      sync.Mutex
	groups  map[string]openstackclient.SecurityGroup
	rules   map[string][]openstackclient.CreateSecurityGroupRuleOpts
	attached map[string][]string // serverID -> sg names
	servers []openstackclient.Server
	nextID  int
	createCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		groups:   make(map[string]openstackclient.SecurityGroup),
		rules:    make(map[string][]openstackclient.CreateSecurityGroupRuleOpts),
		attached: make(map[string][]string),
	}
}

func (f *fakeBackend) CreateSecurityGroup(_ context.Context, opts openstackclient.CreateSecurityGroupOpts) (openstackclient.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	sg := openstackclient.SecurityGroup{ID: opts.Name + "-id", Name: opts.Name, Description: opts.Description}
	f.groups[opts.Name] = sg
	return sg, nil
}

func (f *fakeBackend) GetSecurityGroupByName(_ context.Context, name string) (openstackclient.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sg, ok := f.groups[name]
	if !ok {
		return openstackclient.SecurityGroup{}, apperr.NewWithID(apperr.KindSecurityGroupNotFound, "not found", name)
	}
	return sg, nil
}

func (f *fakeBackend) DeleteSecurityGroup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, sg := range f.groups {
		if sg.ID == id {
			delete(f.groups, name)
		}
	}
	return nil
}

func (f *fakeBackend) CreateSecurityGroupRule(_ context.Context, opts openstackclient.CreateSecurityGroupRuleOpts) (openstackclient.SecurityGroupRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[opts.SecurityGroupID] = append(f.rules[opts.SecurityGroupID], opts)
	return openstackclient.SecurityGroupRule{ID: "rule-1"}, nil
}

func (f *fakeBackend) AddSecurityGroupToServer(_ context.Context, serverID, sgName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[serverID] = append(f.attached[serverID], sgName)
	return nil
}

func (f *fakeBackend) RemoveSecurityGroupFromServer(_ context.Context, serverID, sgName string) error {
	return nil
}

func (f *fakeBackend) GetServers(_ context.Context) ([]openstackclient.Server, error) {
	return f.servers, nil
}

func TestGetOrCreateDefaultSSHCreatesBothEtherTypes(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	sg, err := r.GetOrCreateDefaultSSH(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreateDefaultSSH: %v", err)
	}
	if sg.Name != defaultSSHGroupName {
		t.Errorf("Name = %q, want %q", sg.Name, defaultSSHGroupName)
	}
	if len(backend.rules[sg.ID]) != 2 {
		t.Fatalf("expected 2 rules (IPv4+IPv6), got %d", len(backend.rules[sg.ID]))
	}
}

func TestGetOrCreateDefaultSSHIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	if _, err := r.GetOrCreateDefaultSSH(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := r.GetOrCreateDefaultSSH(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if backend.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 (idempotent)", backend.createCalls)
	}
}

func TestGetOrCreateProjectSerializesConcurrentCreation(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetOrCreateProject(context.Background(), "alice", "proj-1"); err != nil {
				t.Errorf("GetOrCreateProject: %v", err)
			}
		}()
	}
	wg.Wait()

	if backend.createCalls != 1 {
		t.Errorf("createCalls = %d, want exactly 1 despite concurrent callers", backend.createCalls)
	}
}

func TestGetOrCreateResearchEnvSkippedWithoutForcSupport(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	sg, err := r.GetOrCreateResearchEnv(context.Background(), ResearchEnvMeta{NeedsForcSupport: false})
	if err != nil {
		t.Fatalf("GetOrCreateResearchEnv: %v", err)
	}
	if sg.ID != "" {
		t.Errorf("expected zero-value SecurityGroup, got %+v", sg)
	}
	if backend.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", backend.createCalls)
	}
}

func TestGetOrCreateUDPCreatesScopedRule(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	sg, err := r.GetOrCreateUDP(context.Background(), "myvm", "proj-sg-id", 30527)
	if err != nil {
		t.Fatalf("GetOrCreateUDP: %v", err)
	}
	if sg.Name != "myvm_udp" {
		t.Errorf("Name = %q, want myvm_udp", sg.Name)
	}
	rules := backend.rules[sg.ID]
	if len(rules) != 1 || rules[0].Protocol != "udp" || rules[0].PortRangeMin != 30527 {
		t.Errorf("rules = %+v", rules)
	}
}

func TestOpenPortRangeRejectsInvalidEtherType(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")

	_, err := r.OpenPortRange(context.Background(), "server-1", "vm-sg", "proj-sg", "proj-sg-id", 1000, 2000, "IPv5", "tcp")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestDefaultSimpleVMNeverDeleted(t *testing.T) {
	backend := newFakeBackend()
	r := New(backend, nil, "gateway-sg-id", "forc-sg-id")
	ctx := context.Background()

	if _, err := r.GetOrCreateDefaultSSH(ctx); err != nil {
		t.Fatalf("GetOrCreateDefaultSSH: %v", err)
	}

	err := r.DeleteAttached(ctx, "server-1", "myserver", []string{defaultSSHGroupName}, func(name string) (string, error) {
		return backend.groups[name].ID, nil
	})
	if err != nil {
		t.Fatalf("DeleteAttached: %v", err)
	}
	if _, ok := backend.groups[defaultSSHGroupName]; !ok {
		t.Error("defaultSimpleVM should never be deleted")
	}
}
