// Package orchestrator implements the VM Lifecycle Orchestrator (spec.md
// §4.8): StartServer, StartServerWithCustomKey, DeleteServer and GetServer,
// composing the Image Resolver, Security Group Resolver, and Userdata
// Composer around the openstack backend.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/kvstore"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/portcalc"
	"github.com/deNBI/simplevm-portal/internal/secgroup"
	"github.com/deNBI/simplevm-portal/internal/userdata"
)

const sshProbeTimeout = 5 * time.Second

// Backend is the subset of openstackclient.Client the orchestrator needs.
type Backend interface {
	CreateServer(ctx context.Context, opts openstackclient.CreateServerOpts) (openstackclient.Server, error)
	GetServer(ctx context.Context, id string) (openstackclient.Server, error)
	DeleteServer(ctx context.Context, id string) error
	GetFlavorByName(ctx context.Context, name string) (openstackclient.Flavor, error)
	GetFlavor(ctx context.Context, id string) (openstackclient.Flavor, error)
	GetNetworkByName(ctx context.Context, name string) (openstackclient.Network, error)
	ImportKeypair(ctx context.Context, name, publicKey string) (openstackclient.Keypair, error)
	CreateKeypair(ctx context.Context, name string) (openstackclient.Keypair, error)
	DeleteKeypair(ctx context.Context, name string) error
}

// Metadata is the caller-supplied per-server metadata (spec.md §3's
// metadata{projectName,projectId,…}), including the research-env fields
// needed by the Security Group Resolver.
type Metadata struct {
	ProjectName       string
	ProjectID         string
	SecurityGroupName string
	Description       string
	Direction         string
	Protocol          string
	Port              int
	NeedsForcSupport  bool
}

// StartServerInput is the input to StartServer / StartServerWithCustomKey.
type StartServerInput struct {
	Flavor           string
	Image            string
	PublicKey        string
	ServerName       string
	Metadata         Metadata
	NewVolumes       []userdata.NewVolume
	AttachVolumes    []userdata.AttachVolume
	ExtraSGNames     []string
	SlurmVersion     string
	MetadataToken    string
	MetadataEndpoint string
	NetworkName      string
	AdditionalKeys   []string
}

// Orchestrator is the VM Lifecycle Orchestrator.
type Orchestrator struct {
	backend  Backend
	images   *images.Resolver
	secgroup *secgroup.Resolver
	store    kvstore.Store
	gatewayIP string
}

// New builds an Orchestrator.
func New(backend Backend, imageResolver *images.Resolver, sgResolver *secgroup.Resolver, store kvstore.Store, gatewayIP string) *Orchestrator {
	return &Orchestrator{backend: backend, images: imageResolver, secgroup: sgResolver, store: store, gatewayIP: gatewayIP}
}

func keypairName(serverName, projectName string) string {
	short := serverName
	if len(short) > 10 {
		short = short[:10]
	}
	return fmt.Sprintf("%s_%s_%s", uuid.NewString()[:3], short, projectName)
}

func (o *Orchestrator) resolveSecurityGroups(ctx context.Context, in StartServerInput) ([]string, error) {
	names := make([]string, 0, 4+len(in.ExtraSGNames))

	defaultSG, err := o.secgroup.GetOrCreateDefaultSSH(ctx)
	if err != nil {
		return nil, err
	}
	names = append(names, defaultSG.Name)

	if in.Metadata.SecurityGroupName != "" {
		envSG, err := o.secgroup.GetOrCreateResearchEnv(ctx, secgroup.ResearchEnvMeta{
			SecurityGroupName: in.Metadata.SecurityGroupName,
			Description:       in.Metadata.Description,
			Direction:         in.Metadata.Direction,
			Protocol:          in.Metadata.Protocol,
			Port:              in.Metadata.Port,
			NeedsForcSupport:  in.Metadata.NeedsForcSupport,
		})
		if err != nil {
			return nil, err
		}
		if envSG.Name != "" {
			names = append(names, envSG.Name)
		}
	}

	projectSG, err := o.secgroup.GetOrCreateProject(ctx, in.Metadata.ProjectName, in.Metadata.ProjectID)
	if err != nil {
		return nil, err
	}
	names = append(names, projectSG.Name)

	names = append(names, in.ExtraSGNames...)
	return names, nil
}

func (o *Orchestrator) resolveImageFlavorNetwork(ctx context.Context, in StartServerInput) (openstackclient.Image, openstackclient.Flavor, openstackclient.Network, error) {
	img, err := o.images.Get(ctx, in.Image, images.Options{
		ReplaceInactive: true,
		ReplaceNotFound: true,
		IgnoreNotFound:  true,
		SlurmVersion:    in.SlurmVersion,
	})
	if err != nil {
		return openstackclient.Image{}, openstackclient.Flavor{}, openstackclient.Network{}, err
	}
	if img == nil {
		return openstackclient.Image{}, openstackclient.Flavor{}, openstackclient.Network{}, apperr.NewWithID(apperr.KindImageNotFound, "image not found", in.Image)
	}

	flavor, err := o.backend.GetFlavorByName(ctx, in.Flavor)
	if err != nil {
		return openstackclient.Image{}, openstackclient.Flavor{}, openstackclient.Network{}, err
	}

	network, err := o.backend.GetNetworkByName(ctx, in.NetworkName)
	if err != nil {
		return openstackclient.Image{}, openstackclient.Flavor{}, openstackclient.Network{}, err
	}

	return *img, flavor, network, nil
}

func (o *Orchestrator) composeUserdata(in StartServerInput) []byte {
	return userdata.Compose(userdata.Input{
		AdditionalKeys:   in.AdditionalKeys,
		NewVolumes:       in.NewVolumes,
		AttachVolumes:    in.AttachVolumes,
		MetadataToken:    in.MetadataToken,
		MetadataEndpoint: in.MetadataEndpoint,
	})
}

// StartServer implements the StartServer operation (spec.md §4.8).
func (o *Orchestrator) StartServer(ctx context.Context, in StartServerInput) (string, error) {
	img, flavor, network, err := o.resolveImageFlavorNetwork(ctx, in)
	if err != nil {
		return "", err
	}

	sgNames, err := o.resolveSecurityGroups(ctx, in)
	if err != nil {
		return "", err
	}

	keyName := keypairName(in.ServerName, in.Metadata.ProjectName)
	if _, err := o.backend.ImportKeypair(ctx, keyName, in.PublicKey); err != nil {
		return "", err
	}

	server, err := o.backend.CreateServer(ctx, openstackclient.CreateServerOpts{
		Name:           in.ServerName,
		ImageID:        img.ID,
		FlavorID:       flavor.ID,
		NetworkID:      network.ID,
		SecurityGroups: sgNames,
		KeyName:        keyName,
		UserData:       o.composeUserdata(in),
	})
	if err != nil {
		_ = o.backend.DeleteKeypair(ctx, keyName)
		return "", err
	}

	if err := o.backend.DeleteKeypair(ctx, keyName); err != nil {
		return server.ID, err
	}
	return server.ID, nil
}

// StartServerWithCustomKey is StartServer, except the backend generates a
// fresh keypair whose private key is recorded in KV and returned exactly
// once to the caller.
func (o *Orchestrator) StartServerWithCustomKey(ctx context.Context, in StartServerInput) (vmID, privateKey string, err error) {
	img, flavor, network, err := o.resolveImageFlavorNetwork(ctx, in)
	if err != nil {
		return "", "", err
	}

	sgNames, err := o.resolveSecurityGroups(ctx, in)
	if err != nil {
		return "", "", err
	}

	keyName := keypairName(in.ServerName, in.Metadata.ProjectName)
	kp, err := o.backend.CreateKeypair(ctx, keyName)
	if err != nil {
		return "", "", err
	}

	server, err := o.backend.CreateServer(ctx, openstackclient.CreateServerOpts{
		Name:           in.ServerName,
		ImageID:        img.ID,
		FlavorID:       flavor.ID,
		NetworkID:      network.ID,
		SecurityGroups: sgNames,
		KeyName:        keyName,
		UserData:       o.composeUserdata(in),
	})
	if err != nil {
		_ = o.backend.DeleteKeypair(ctx, keyName)
		return "", "", err
	}

	if err := o.store.Put(ctx, server.ID, kvstore.Record{
		PrivateKey: kp.PrivateKey,
		Name:       in.ServerName,
		Status:     kvstore.StatusPrepare,
	}); err != nil {
		return "", "", err
	}

	if err := o.backend.DeleteKeypair(ctx, keyName); err != nil {
		return server.ID, "", err
	}
	return server.ID, kp.PrivateKey, nil
}

var conflictingTaskStates = map[string]bool{
	"image_snapshot": true, "image_pending_upload": true, "image_uploading": true,
}

// DeleteServer fetches the VM, refuses on an in-flight snapshot, removes
// its security groups per the §4.3 deletion policy, then force-deletes it.
func (o *Orchestrator) DeleteServer(ctx context.Context, vmID string, sgIDLookup func(name string) (string, error)) error {
	server, err := o.backend.GetServer(ctx, vmID)
	if err != nil {
		return err
	}
	if conflictingTaskStates[server.TaskState] {
		return apperr.NewWithID(apperr.KindOpenStackConflict, "server has an in-flight image operation", vmID)
	}

	if err := o.secgroup.DeleteAttached(ctx, server.ID, server.Name, server.SecurityGroups, sgIDLookup); err != nil {
		return err
	}

	return o.backend.DeleteServer(ctx, vmID)
}

// GetServer fetches the VM, probes SSH reachability when active, resolves
// its image/flavor into embedded snapshots, and overlays pipeline status
// from KV onto the task state.
func (o *Orchestrator) GetServer(ctx context.Context, vmID string, ports *portcalc.Calculator) (openstackclient.Server, error) {
	server, err := o.backend.GetServer(ctx, vmID)
	if err != nil {
		return openstackclient.Server{}, err
	}

	if server.VMState == "active" && server.FixedIPv4 != "" && ports != nil {
		calculated, err := ports.Calculate(server.FixedIPv4)
		if err == nil && !probeTCP(o.gatewayIP, calculated.SSHPort) {
			server.TaskState = "CHECKING_SSH_CONNECTION"
		}
	}

	if server.TaskState == "" {
		if status, err := o.store.GetStatus(ctx, vmID); err == nil {
			server.TaskState = string(status)
		}
	}

	return o.resolveImageFlavorSnapshot(ctx, server), nil
}

// resolveImageFlavorSnapshot fills Server.Image/Server.Flavor from
// FlavorID/ImageID, matching original_source's
// openstack_connector.get_server (server.image = self.get_image(...),
// server.flavor = self.get_flavor(...)). Left zero-valued on a resolution
// failure rather than failing the whole GetServer call.
func (o *Orchestrator) resolveImageFlavorSnapshot(ctx context.Context, server openstackclient.Server) openstackclient.Server {
	if server.ImageID != "" {
		if img, err := o.images.Get(ctx, server.ImageID, images.Options{IgnoreNotActive: true, IgnoreNotFound: true}); err == nil && img != nil {
			server.Image = *img
		}
	}
	if server.FlavorID != "" {
		if flavor, err := o.backend.GetFlavor(ctx, server.FlavorID); err == nil {
			server.Flavor = flavor
		}
	}
	return server
}

func probeTCP(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), sshProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
