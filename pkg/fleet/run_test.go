package fleet_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/agubarev/ztcp/pkg/config"
	"github.com/agubarev/ztcp/pkg/core"
	"github.com/agubarev/ztcp/pkg/fleet"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `
devices:
  - name: sensor-a
    zone: internal
    segment: lab
    attributes:
      serial: SN-A
      mac: "00:1b:44:11:3a:b7"
  - name: sensor-b
    zone: internal
    segment: lab
    attributes:
      serial: SN-B
  - name: vault-c
    zone: restricted
    attributes:
      serial: 4711
policies:
  - id: a-to-c
    source: sensor-a
    target: vault-c
    protocols: [https]
    ports: [443]
activity:
  - device: sensor-b
    latency: 10ms
    success: false
    repeat: 7
rotate: [sensor-a]
communications:
  - {source: sensor-a, target: sensor-b, protocol: HTTPS, port: 443}
  - {source: sensor-a, target: vault-c, protocol: HTTPS, port: 443}
  - {source: vault-c, target: sensor-a, protocol: HTTPS, port: 443}
  - {source: sensor-b, target: sensor-a, protocol: HTTPS, port: 443}
isolate: [vault-c]
`

func writeManifest(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0600))

	return path
}

func TestLoadManifest(t *testing.T) {
	a := assert.New(t)

	m, err := fleet.LoadManifest(writeManifest(t, manifest))
	require.NoError(t, err)
	a.Len(m.Devices, 3)
	a.Equal("4711", m.Devices[2].Attributes["serial"])
	a.Equal([]uint16{443}, m.Policies[0].Ports)
	a.Equal(7, m.Activity[0].Repeat)
	a.Equal([]string{"vault-c"}, m.Isolate)

	_, err = fleet.LoadManifest(writeManifest(t, "devices: []\n"))
	a.Equal(fleet.ErrEmptyManifest, err)

	_, err = fleet.LoadManifest(writeManifest(t, `
devices:
  - {name: a, zone: internal, attributes: {serial: "1"}}
isolate: [b]
`))
	a.ErrorIs(err, fleet.ErrUnknownDevice)

	_, err = fleet.LoadManifest(writeManifest(t, `
devices:
  - {name: a, zone: internal, attributes: {serial: "1"}}
  - {name: a, zone: internal, attributes: {serial: "2"}}
`))
	a.ErrorIs(err, fleet.ErrDuplicateDevice)
}

func TestRun(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, err := fleet.LoadManifest(writeManifest(t, manifest))
	require.NoError(t, err)

	c, err := core.New(ctx, config.Default())
	require.NoError(t, err)
	defer c.Close()

	r, err := fleet.Run(ctx, c, m)
	require.NoError(t, err)

	require.Len(t, r.Devices, 3)
	a.Equal("lab", r.Devices[0].SegmentID)
	a.True(r.Devices[0].Rotated)
	a.Equal("LOW", r.Devices[1].TrustLevel)
	a.Equal("restricted-default", r.Devices[2].SegmentID)
	require.NotNil(t, r.Devices[2].Isolation)
	a.True(r.Devices[2].Isolation.Complete())
	a.Nil(r.Devices[0].Isolation)

	require.Len(t, r.Communications, 4)
	a.Equal(segment.ReasonSameSegment, r.Communications[0].Decision.Reason)
	a.Equal(segment.ReasonPolicyMatch, r.Communications[1].Decision.Reason)
	a.Equal(segment.ReasonNoMatchingPolicy, r.Communications[2].Decision.Reason)
	a.Equal(segment.ReasonTrustTooLow, r.Communications[3].Decision.Reason)

	a.True(r.AuditIntact)
	a.Equal(1, r.Statistics.Identities.Revoked)
	a.Equal(1, r.Statistics.Segmentation.IsolatedDevices)
}
