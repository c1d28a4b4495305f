package records_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrej220/authclear/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Timestamp,MACAddress,NAS-IP-Address,NAS-Port-Id,Username
2026-10-01 10:00,AA:BB:CC:00:00:01,10.10.1.1,GigabitEthernet1/0/3,alice
2026-10-01 10:01,AA:BB:CC:00:00:02, 10.10.1.2 ,GigabitEthernet2/0/14,bob

2026-10-01 10:02,AA:BB:CC:00:00:03,sw-core-3.example.net,Te1/1/1,carol
`

func TestRead(t *testing.T) {
	recs, err := records.Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, records.Record{
		Row:           3,
		SwitchAddress: "10.10.1.2",
		SwitchPort:    "GigabitEthernet2/0/14",
		MACAddress:    "AA:BB:CC:00:00:02",
	}, recs[1])
	assert.Equal(t, "sw-core-3.example.net", recs[2].SwitchAddress)
}

func TestReadStripsBOM(t *testing.T) {
	in := "\ufeffNAS-IP-Address,NAS-Port-Id,MACAddress\n10.0.0.1,Gi1/0/1,mac1\n"
	recs, err := records.Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		wantMsg string
	}{
		{name: "empty input", input: "", wantErr: records.ErrNoRecords},
		{name: "header only", input: "NAS-IP-Address,NAS-Port-Id,MACAddress\n", wantErr: records.ErrNoRecords},
		{name: "missing column", input: "NAS-IP-Address,MACAddress\n10.0.0.1,mac\n", wantErr: records.ErrMissingColumn, wantMsg: "NAS-Port-Id"},
		{name: "empty port", input: "NAS-IP-Address,NAS-Port-Id,MACAddress\n10.0.0.1,,mac\n", wantErr: records.ErrInvalidRecord, wantMsg: "row 2"},
		{name: "bad address", input: "NAS-IP-Address,NAS-Port-Id,MACAddress\n10.0.0.1,Gi1/0/1,m\nnot a host!,Gi1/0/2,m2\n", wantErr: records.ErrInvalidRecord, wantMsg: "row 3"},
		{name: "short row", input: "NAS-IP-Address,NAS-Port-Id,MACAddress\n10.0.0.1,Gi1/0/1\n", wantErr: records.ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := records.Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affected.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0600))

	recs, err := records.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, err = records.ReadFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToTasks(t *testing.T) {
	recs, err := records.Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	tasks := records.ToTasks(recs)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i+1, task.Index())
		assert.Equal(t, recs[i].MACAddress, task.CorrelationID())
		assert.Equal(t, recs[i].SwitchAddress, task.SwitchAddress())
		assert.Equal(t, "clear auth sessions int "+recs[i].SwitchPort, task.Command())
	}
}
