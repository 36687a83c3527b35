package app

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/bibigrid"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/orchestrator"
	"github.com/deNBI/simplevm-portal/internal/rpcservice"
	"github.com/deNBI/simplevm-portal/internal/rpctransport"
	"github.com/deNBI/simplevm-portal/internal/secgroup"
)

// Request/response shapes for the rpcservice.Service methods that don't
// already take or return a single named struct. Grouped by the
// internal/rpcservice file each mirrors.

type idReq struct{ ID string }
type nameReq struct{ Name string }
type idsReq struct{ IDs []string }

// images.go
type getImageReq struct {
	NameOrID        string
	IgnoreNotActive bool
}

// volumes.go
type createVolumeReq struct {
	Name   string
	SizeGB int
	Meta   map[string]string
}
type createVolumeFromSourceReq struct {
	Name        string
	SizeGB      int
	Meta        map[string]string
	SourceVolID string
}
type createVolumeFromSnapReq struct {
	Name       string
	SizeGB     int
	Meta       map[string]string
	SnapshotID string
}
type resizeVolumeReq struct {
	VolID string
	NewGB int
}
type attachVolumeReq struct{ VMID, VolID string }
type detachVolumeReq struct{ VolID, VMID string }
type createVolumeSnapshotReq struct{ VolID, Name, Description string }

// vms.go
type startServerWithCustomKeyResp struct {
	VMID       string
	PrivateKey string
}
type getServerConsoleReq struct{ VMID, ConsoleType string }
type rescueServerReq struct{ VMID, AdminPass string }
type serverMetadataReq struct {
	VMID string
	Meta map[string]string
}

// securitygroups.go
type removeSGsReq struct {
	VMID  string
	Names []string
}
type addResearchEnvSGReq struct {
	VMID string
	Meta secgroup.ResearchEnvMeta
}
type addProjectSGReq struct{ VMID, ProjectName, ProjectID string }
type addUDPSGReq struct {
	VMID, VMName, ProjectSGID string
	UDPPort                   int
}

// keypairs.go
type importKeypairReq struct{ Name, PublicKey string }

// playbooks.go
type hasForcReq struct{ TemplateName, Version string }

// metadata.go
type setMetadataReq struct {
	IP   string
	Meta map[string]any
}

// buildRouter registers one Handler per internal/rpcservice operation,
// gob-decoding the wire request and gob-encoding the result.
func buildRouter(svc *rpcservice.Service) *rpctransport.Router {
	r := rpctransport.NewRouter()

	// images.go
	rpctransport.RegisterUnary(r, "GetImages", func(ctx context.Context, _ struct{}) ([]openstackclient.Image, error) {
		return svc.GetImages(ctx)
	})
	rpctransport.RegisterUnary(r, "GetImage", func(ctx context.Context, req getImageReq) (openstackclient.Image, error) {
		return svc.GetImage(ctx, req.NameOrID, req.IgnoreNotActive)
	})
	rpctransport.RegisterUnary(r, "GetPublicImages", func(ctx context.Context, _ struct{}) ([]openstackclient.Image, error) {
		return svc.GetPublicImages(ctx)
	})
	rpctransport.RegisterUnary(r, "GetPrivateImages", func(ctx context.Context, _ struct{}) ([]openstackclient.Image, error) {
		return svc.GetPrivateImages(ctx)
	})
	rpctransport.RegisterUnary(r, "GetFlavors", func(ctx context.Context, _ struct{}) ([]openstackclient.Flavor, error) {
		return svc.GetFlavors(ctx)
	})
	rpctransport.RegisterUnary(r, "DeleteImage", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.DeleteImage(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "CreateSnapshot", func(ctx context.Context, req rpcservice.CreateSnapshotInput) (string, error) {
		return svc.CreateSnapshot(ctx, req)
	})

	// volumes.go
	rpctransport.RegisterUnary(r, "GetVolume", func(ctx context.Context, req idReq) (openstackclient.Volume, error) {
		return svc.GetVolume(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetVolumesByIds", func(ctx context.Context, req idsReq) ([]openstackclient.Volume, error) {
		return svc.GetVolumesByIds(ctx, req.IDs)
	})
	rpctransport.RegisterUnary(r, "CreateVolume", func(ctx context.Context, req createVolumeReq) (openstackclient.Volume, error) {
		return svc.CreateVolume(ctx, req.Name, req.SizeGB, req.Meta)
	})
	rpctransport.RegisterUnary(r, "CreateVolumeBySourceVolume", func(ctx context.Context, req createVolumeFromSourceReq) (openstackclient.Volume, error) {
		return svc.CreateVolumeBySourceVolume(ctx, req.Name, req.SizeGB, req.Meta, req.SourceVolID)
	})
	rpctransport.RegisterUnary(r, "CreateVolumeByVolumeSnap", func(ctx context.Context, req createVolumeFromSnapReq) (openstackclient.Volume, error) {
		return svc.CreateVolumeByVolumeSnap(ctx, req.Name, req.SizeGB, req.Meta, req.SnapshotID)
	})
	rpctransport.RegisterUnary(r, "ResizeVolume", func(ctx context.Context, req resizeVolumeReq) (struct{}, error) {
		return struct{}{}, svc.ResizeVolume(ctx, req.VolID, req.NewGB)
	})
	rpctransport.RegisterUnary(r, "AttachVolumeToServer", func(ctx context.Context, req attachVolumeReq) (string, error) {
		return svc.AttachVolumeToServer(ctx, req.VMID, req.VolID)
	})
	rpctransport.RegisterUnary(r, "DetachVolume", func(ctx context.Context, req detachVolumeReq) (struct{}, error) {
		return struct{}{}, svc.DetachVolume(ctx, req.VolID, req.VMID)
	})
	rpctransport.RegisterUnary(r, "DeleteVolume", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.DeleteVolume(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "CreateVolumeSnapshot", func(ctx context.Context, req createVolumeSnapshotReq) (openstackclient.VolumeSnapshot, error) {
		return svc.CreateVolumeSnapshot(ctx, req.VolID, req.Name, req.Description)
	})
	rpctransport.RegisterUnary(r, "GetVolumeSnapshot", func(ctx context.Context, req idReq) (openstackclient.VolumeSnapshot, error) {
		return svc.GetVolumeSnapshot(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "DeleteVolumeSnapshot", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.DeleteVolumeSnapshot(ctx, req.ID)
	})

	// vms.go
	rpctransport.RegisterUnary(r, "StartServer", func(ctx context.Context, req orchestrator.StartServerInput) (string, error) {
		return svc.StartServer(ctx, req)
	})
	rpctransport.RegisterUnary(r, "StartServerWithCustomKey", func(ctx context.Context, req orchestrator.StartServerInput) (startServerWithCustomKeyResp, error) {
		vmID, privateKey, err := svc.StartServerWithCustomKey(ctx, req)
		return startServerWithCustomKeyResp{VMID: vmID, PrivateKey: privateKey}, err
	})
	rpctransport.RegisterUnary(r, "GetServer", func(ctx context.Context, req idReq) (openstackclient.Server, error) {
		return svc.GetServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetServerByUniqueName", func(ctx context.Context, req nameReq) (openstackclient.Server, error) {
		return svc.GetServerByUniqueName(ctx, req.Name)
	})
	rpctransport.RegisterUnary(r, "GetServers", func(ctx context.Context, _ struct{}) ([]openstackclient.Server, error) {
		return svc.GetServers(ctx)
	})
	rpctransport.RegisterUnary(r, "GetServersByIds", func(ctx context.Context, req idsReq) ([]openstackclient.Server, error) {
		return svc.GetServersByIds(ctx, req.IDs)
	})
	rpctransport.RegisterUnary(r, "GetServersByBibigridId", func(ctx context.Context, req idReq) ([]openstackclient.Server, error) {
		return svc.GetServersByBibigridId(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetServerConsole", func(ctx context.Context, req getServerConsoleReq) (openstackclient.Console, error) {
		return svc.GetServerConsole(ctx, req.VMID, req.ConsoleType)
	})
	rpctransport.RegisterUnary(r, "StopServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.StopServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "RebootSoftServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.RebootSoftServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "RebootHardServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.RebootHardServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "ResumeServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.ResumeServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "RescueServer", func(ctx context.Context, req rescueServerReq) (struct{}, error) {
		return struct{}{}, svc.RescueServer(ctx, req.VMID, req.AdminPass)
	})
	rpctransport.RegisterUnary(r, "UnrescueServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.UnrescueServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "DeleteServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.DeleteServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "ExistServer", func(ctx context.Context, req idReq) (bool, error) {
		return svc.ExistServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetVmPorts", func(ctx context.Context, req idReq) (rpcservice.VmPorts, error) {
		return svc.GetVmPorts(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "SetServerMetadata", func(ctx context.Context, req serverMetadataReq) (struct{}, error) {
		return struct{}{}, svc.SetServerMetadata(ctx, req.VMID, req.Meta)
	})
	rpctransport.RegisterUnary(r, "AddMetadataToServer", func(ctx context.Context, req serverMetadataReq) (struct{}, error) {
		return struct{}{}, svc.AddMetadataToServer(ctx, req.VMID, req.Meta)
	})

	// securitygroups.go
	rpctransport.RegisterUnary(r, "DeleteSecurityGroupRule", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.DeleteSecurityGroupRule(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "RemoveSecurityGroupsFromServer", func(ctx context.Context, req removeSGsReq) (struct{}, error) {
		return struct{}{}, svc.RemoveSecurityGroupsFromServer(ctx, req.VMID, req.Names)
	})
	rpctransport.RegisterUnary(r, "AddDefaultSecurityGroupsToServer", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.AddDefaultSecurityGroupsToServer(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "OpenPortRangeForVmInProject", func(ctx context.Context, req rpcservice.OpenPortRangeForVmInProjectInput) (string, error) {
		return svc.OpenPortRangeForVmInProject(ctx, req)
	})
	rpctransport.RegisterUnary(r, "AddResearchEnvironmentSecurityGroup", func(ctx context.Context, req addResearchEnvSGReq) (struct{}, error) {
		return struct{}{}, svc.AddResearchEnvironmentSecurityGroup(ctx, req.VMID, req.Meta)
	})
	rpctransport.RegisterUnary(r, "AddProjectSecurityGroupToServer", func(ctx context.Context, req addProjectSGReq) (struct{}, error) {
		return struct{}{}, svc.AddProjectSecurityGroupToServer(ctx, req.VMID, req.ProjectName, req.ProjectID)
	})
	rpctransport.RegisterUnary(r, "AddUdpSecurityGroup", func(ctx context.Context, req addUDPSGReq) (struct{}, error) {
		return struct{}{}, svc.AddUdpSecurityGroup(ctx, req.VMID, req.VMName, req.ProjectSGID, req.UDPPort)
	})
	rpctransport.RegisterUnary(r, "GetSecurityGroupIdByName", func(ctx context.Context, req nameReq) (string, error) {
		return svc.GetSecurityGroupIdByName(ctx, req.Name)
	})

	// keypairs.go
	rpctransport.RegisterUnary(r, "ImportKeypair", func(ctx context.Context, req importKeypairReq) (struct{}, error) {
		return struct{}{}, svc.ImportKeypair(ctx, req.Name, req.PublicKey)
	})
	rpctransport.RegisterUnary(r, "GetKeypairPublicKeyByName", func(ctx context.Context, req nameReq) (string, error) {
		return svc.GetKeypairPublicKeyByName(ctx, req.Name)
	})
	rpctransport.RegisterUnary(r, "DeleteKeypair", func(ctx context.Context, req nameReq) (struct{}, error) {
		return struct{}{}, svc.DeleteKeypair(ctx, req.Name)
	})

	// playbooks.go
	rpctransport.RegisterUnary(r, "CreateAndDeployPlaybook", func(ctx context.Context, req rpcservice.CreateAndDeployPlaybookInput) (int, error) {
		return svc.CreateAndDeployPlaybook(ctx, req)
	})
	rpctransport.RegisterUnary(r, "GetPlaybookLogs", func(ctx context.Context, req idReq) (rpcservice.PlaybookLogs, error) {
		return svc.GetPlaybookLogs(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "HasForc", func(ctx context.Context, req hasForcReq) (bool, error) {
		return svc.HasForc(ctx, req.TemplateName, req.Version), nil
	})
	rpctransport.RegisterUnary(r, "GetForcAccessUrl", func(ctx context.Context, _ struct{}) (string, error) {
		return svc.GetForcAccessUrl(ctx), nil
	})
	rpctransport.RegisterUnary(r, "GetForcBackendUrl", func(ctx context.Context, _ struct{}) (string, error) {
		return svc.GetForcBackendUrl(ctx), nil
	})
	rpctransport.RegisterUnary(r, "GetAllowedTemplates", func(ctx context.Context, _ struct{}) (map[string][]string, error) {
		return svc.GetAllowedTemplates(ctx), nil
	})

	// cluster.go
	rpctransport.RegisterUnary(r, "IsBibigridAvailable", func(ctx context.Context, _ struct{}) (bool, error) {
		return svc.IsBibigridAvailable(ctx), nil
	})
	rpctransport.RegisterUnary(r, "GetClusterSupportedUbuntuOsVersions", func(ctx context.Context, _ struct{}) ([]string, error) {
		return svc.GetClusterSupportedUbuntuOsVersions(ctx)
	})
	rpctransport.RegisterUnary(r, "GetClusterInfo", func(ctx context.Context, req idReq) (bibigrid.Info, error) {
		return svc.GetClusterInfo(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetClusterLog", func(ctx context.Context, req idReq) (string, error) {
		return svc.GetClusterLog(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "GetClusterState", func(ctx context.Context, req idReq) (bibigrid.State, error) {
		return svc.GetClusterState(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "StartCluster", func(ctx context.Context, req bibigrid.CreateClusterRequest) (string, error) {
		return svc.StartCluster(ctx, req)
	})
	rpctransport.RegisterUnary(r, "TerminateCluster", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.TerminateCluster(ctx, req.ID)
	})
	rpctransport.RegisterUnary(r, "AddClusterMachine", func(ctx context.Context, req rpcservice.AddClusterMachineInput) (string, error) {
		return svc.AddClusterMachine(ctx, req)
	})

	// metadata.go
	rpctransport.RegisterUnary(r, "IsMetadataServerAvailable", func(ctx context.Context, _ struct{}) (bool, error) {
		return svc.IsMetadataServerAvailable(ctx), nil
	})
	rpctransport.RegisterUnary(r, "SetMetadataServerData", func(ctx context.Context, req setMetadataReq) (struct{}, error) {
		return struct{}{}, svc.SetMetadataServerData(ctx, req.IP, req.Meta)
	})
	rpctransport.RegisterUnary(r, "RemoveMetadataServerData", func(ctx context.Context, req idReq) (struct{}, error) {
		return struct{}{}, svc.RemoveMetadataServerData(ctx, req.ID)
	})

	// misc.go
	rpctransport.RegisterUnary(r, "GetGatewayIp", func(ctx context.Context, _ struct{}) (string, error) {
		return svc.GetGatewayIp(ctx), nil
	})
	rpctransport.RegisterUnary(r, "GetCalculationValues", func(ctx context.Context, _ struct{}) (rpcservice.CalculationValues, error) {
		return svc.GetCalculationValues(ctx), nil
	})
	rpctransport.RegisterUnary(r, "GetLimits", func(ctx context.Context, _ struct{}) (openstackclient.Limits, error) {
		return svc.GetLimits(ctx)
	})

	return r
}
