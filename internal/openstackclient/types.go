package openstackclient

import "time"

// Image is the domain snapshot of a glance image, carrying the metadata
// properties the Image Resolver (internal/images) reasons over.
type Image struct {
	ID         string
	Name       string
	Status     string
	OSVersion  string
	OSDistro   string
	SlurmType  string // "worker", "master", or "" if untagged
	Tags       []string
	MinRAMMB   int
	MinDiskGB  int
	CreatedAt  time.Time
}

// Active reports whether the image is ready to boot from.
func (i Image) Active() bool { return i.Status == "active" }

// Flavor is the domain snapshot of a nova flavor.
type Flavor struct {
	ID    string
	Name  string
	VCPUs int
	RAMMB int
	DiskGB int
}

// Network is the domain snapshot of a neutron network.
type Network struct {
	ID   string
	Name string
}

// Volume is the domain snapshot of a cinder volume.
type Volume struct {
	ID          string
	Name        string
	SizeGB      int
	Status      string
	SnapshotID  string
	SourceVolID string
}

// VolumeSnapshot is the domain snapshot of a cinder volume snapshot.
type VolumeSnapshot struct {
	ID       string
	Name     string
	VolumeID string
	Status   string
}

// Server is the domain snapshot of a nova server, overlaid with the derived
// task state the VM Lifecycle Orchestrator computes (spec.md §3). Flavor and
// Image are the resolved snapshots for FlavorID/ImageID (spec.md §4.8,
// §8): populated best-effort by whichever component fetched this Server,
// left zero-valued if the underlying flavor/image could no longer be
// resolved.
type Server struct {
	ID           string
	Name         string
	VMState      string
	TaskState    string
	FixedIPv4    string
	FloatingIPv4 string
	Metadata     map[string]string
	SecurityGroups []string
	FlavorID     string
	ImageID      string
	Flavor       Flavor
	Image        Image
	KeyName      string
	CreatedAt    time.Time
}

// SecurityGroup is the domain snapshot of a neutron security group.
type SecurityGroup struct {
	ID          string
	Name        string
	Description string
	Rules       []SecurityGroupRule
}

// SecurityGroupRule is one ingress/egress rule of a SecurityGroup.
type SecurityGroupRule struct {
	ID            string
	Direction     string // "ingress" | "egress"
	EtherType     string // "IPv4" | "IPv6"
	Protocol      string // "tcp" | "udp" | "icmp"
	PortRangeMin  int
	PortRangeMax  int
	RemoteGroupID string
	RemoteIPPrefix string
}

// Keypair is the domain snapshot of a nova keypair. PrivateKey is populated
// only when the backend generated the pair itself (CreateKeypair), never
// when a caller-supplied public key was imported.
type Keypair struct {
	Name       string
	PublicKey  string
	PrivateKey string
}

// Limits is the quota/usage snapshot returned by GetLimits.
type Limits struct {
	MaxTotalInstances int
	TotalInstancesUsed int
	MaxTotalCores     int
	TotalCoresUsed    int
	MaxTotalRAMSize   int
	TotalRAMUsed      int
	MaxTotalVolumes   int
	TotalVolumesUsed  int
	MaxTotalVolumeGigabytes int
	TotalVolumeGigabytesUsed int
}
