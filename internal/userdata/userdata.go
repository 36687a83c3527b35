// Package userdata implements the Userdata Composer (spec.md §4.4):
// assembly of a multi-part cloud-init boot script in a fixed, load-bearing
// order.
package userdata

import (
	"fmt"
	"strings"
)

// NewVolume is a volume created fresh alongside the VM (needs a filesystem).
type NewVolume struct {
	ID   string
	Path string
}

// AttachVolume is a pre-existing volume being attached (mount-only).
type AttachVolume struct {
	ID   string
	Path string
}

// Input is everything the composer needs to assemble one VM's userdata.
type Input struct {
	AdditionalKeys   []string
	NewVolumes       []NewVolume
	AttachVolumes    []AttachVolume
	MetadataToken    string
	MetadataEndpoint string
}

const unlockUserStub = `#!/bin/bash
# unlock-user
passwd -u ubuntu || true
`

// deviceID mirrors the original_source convention: "virtio-" followed by
// the first 20 characters of the openstack volume id.
func deviceID(volumeID string) string {
	id := volumeID
	if len(id) > 20 {
		id = id[:20]
	}
	return "virtio-" + id
}

// Compose assembles the fixed-order multi-part userdata blob. Empty
// sub-scripts produce no bytes; cloud-init runs the parts it receives in
// the order they're written.
func Compose(in Input) []byte {
	var b strings.Builder

	b.WriteString(unlockUserStub)

	if len(in.AdditionalKeys) > 0 {
		b.WriteString(sshKeysScript(in.AdditionalKeys))
	}

	if len(in.NewVolumes) > 0 || len(in.AttachVolumes) > 0 {
		b.WriteString(volumeMountScript(in.NewVolumes, in.AttachVolumes))
	}

	if in.MetadataToken != "" && in.MetadataEndpoint != "" {
		b.WriteString(metadataScript(in.MetadataToken, in.MetadataEndpoint))
	}

	return []byte(b.String())
}

func sshKeysScript(keys []string) string {
	var b strings.Builder
	b.WriteString("\n# add-ssh-keys\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "echo %q >> ~ubuntu/.ssh/authorized_keys\n", k)
	}
	return b.String()
}

func volumeMountScript(newVolumes []NewVolume, attachVolumes []AttachVolume) string {
	var b strings.Builder
	b.WriteString("\n# mount-volumes\n")

	if len(newVolumes) > 0 {
		devices := make([]string, len(newVolumes))
		paths := make([]string, len(newVolumes))
		for i, v := range newVolumes {
			devices[i] = deviceID(v.ID)
			paths[i] = v.Path
		}
		fmt.Fprintf(&b, "CREATE_DEVICES=(%s)\n", strings.Join(devices, " "))
		fmt.Fprintf(&b, "CREATE_PATHS=(%s)\n", strings.Join(paths, " "))
		b.WriteString("for i in \"${!CREATE_DEVICES[@]}\"; do\n")
		b.WriteString("  mkfs.ext4 \"/dev/${CREATE_DEVICES[$i]}\"\n")
		b.WriteString("  mkdir -p \"${CREATE_PATHS[$i]}\"\n")
		b.WriteString("  mount \"/dev/${CREATE_DEVICES[$i]}\" \"${CREATE_PATHS[$i]}\"\n")
		b.WriteString("done\n")
	}

	if len(attachVolumes) > 0 {
		devices := make([]string, len(attachVolumes))
		paths := make([]string, len(attachVolumes))
		for i, v := range attachVolumes {
			devices[i] = deviceID(v.ID)
			paths[i] = v.Path
		}
		fmt.Fprintf(&b, "ATTACH_DEVICES=(%s)\n", strings.Join(devices, " "))
		fmt.Fprintf(&b, "ATTACH_PATHS=(%s)\n", strings.Join(paths, " "))
		b.WriteString("for i in \"${!ATTACH_DEVICES[@]}\"; do\n")
		b.WriteString("  mkdir -p \"${ATTACH_PATHS[$i]}\"\n")
		b.WriteString("  mount \"/dev/${ATTACH_DEVICES[$i]}\" \"${ATTACH_PATHS[$i]}\"\n")
		b.WriteString("done\n")
	}

	return b.String()
}

func metadataScript(token, endpoint string) string {
	var b strings.Builder
	b.WriteString("\n# register-metadata-token\n")
	fmt.Fprintf(&b, "mkdir -p /etc/simplevm\n")
	fmt.Fprintf(&b, "echo %q > /etc/simplevm/metadata-token\n", token)
	fmt.Fprintf(&b, "echo %q > /etc/simplevm/metadata-endpoint\n", endpoint)
	return b.String()
}
