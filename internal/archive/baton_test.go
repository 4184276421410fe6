package archive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/workbot/internal/models"
)

func TestBatonItemPath(t *testing.T) {
	coll := collectionItem("/testZone/ont/run1")
	assert.Equal(t, "/testZone/ont/run1", coll.path())
	assert.True(t, coll.isCollection())

	obj := dataObjectItem("/testZone/ont/run1/report.txt")
	assert.Equal(t, "/testZone/ont/run1", obj.Collection)
	assert.Equal(t, "report.txt", obj.DataObject)
	assert.Equal(t, "/testZone/ont/run1/report.txt", obj.path())
	assert.False(t, obj.isCollection())

	rootObj := dataObjectItem("/report.txt")
	assert.Equal(t, "/", rootObj.Collection)
	assert.Equal(t, "/report.txt", rootObj.path())
}

func TestBatonEnvelopeMarshal(t *testing.T) {
	tests := []struct {
		name     string
		envelope batonEnvelope
		want     string
	}{
		{
			name: "list with contents",
			envelope: batonEnvelope{
				Operation: opList,
				Arguments: batonArgs{AVU: true, Contents: true},
				Target:    collectionItem("/testZone/ont/run1"),
			},
			want: `{
				"operation": "list",
				"arguments": {"avu": true, "contents": true},
				"target": {"collection": "/testZone/ont/run1"}
			}`,
		},
		{
			name: "metamod add folds namespaces",
			envelope: batonEnvelope{
				Operation: opMetamod,
				Arguments: batonArgs{Operation: metamodAdd},
				Target: batonItem{
					Collection: "/testZone/ont/run1",
					AVUs:       []models.AVU{models.NewAVU("experiment_name", "expt_01").WithNamespace("ont")},
				},
			},
			want: `{
				"operation": "metamod",
				"arguments": {"operation": "add"},
				"target": {
					"collection": "/testZone/ont/run1",
					"avus": [{"attribute": "ont:experiment_name", "value": "expt_01"}]
				}
			}`,
		},
		{
			name: "metaquery with zone hint",
			envelope: batonEnvelope{
				Operation: opMetaquery,
				Arguments: batonArgs{Collection: true},
				Target: batonItem{
					Collection: "testZone",
					AVUs:       []models.AVU{models.NewAVU("tag_index", "1")},
				},
			},
			want: `{
				"operation": "metaquery",
				"arguments": {"collection": true},
				"target": {
					"collection": "testZone",
					"avus": [{"attribute": "tag_index", "value": "1"}]
				}
			}`,
		},
		{
			name: "chmod",
			envelope: batonEnvelope{
				Operation: opChmod,
				Arguments: batonArgs{Recurse: true},
				Target: batonItem{
					Collection: "/testZone/ont/run1",
					Access:     []batonAccess{{Owner: "ont_reader", Level: "read"}},
				},
			},
			want: `{
				"operation": "chmod",
				"arguments": {"recurse": true},
				"target": {
					"collection": "/testZone/ont/run1",
					"access": [{"owner": "ont_reader", "level": "read"}]
				}
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.envelope)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestBatonResponseUnmarshalError(t *testing.T) {
	const doc = `{"operation":"list","error":{"message":"path does not exist","code":-310000}}`

	var resp batonResponse
	require.NoError(t, json.Unmarshal([]byte(doc), &resp))

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeFileDoesNotExist, resp.Error.Code)
	assert.Equal(t, "path does not exist", resp.Error.Message)
	assert.Nil(t, resp.Result)
}

func TestBatonResponseUnmarshalSingle(t *testing.T) {
	const doc = `{
		"operation": "list",
		"result": {
			"single": {
				"collection": "/testZone/ont/run1",
				"data_object": "report.txt",
				"size": 42,
				"avus": [{"attribute": "ont:experiment_name", "value": "expt_01"}]
			}
		}
	}`

	var resp batonResponse
	require.NoError(t, json.Unmarshal([]byte(doc), &resp))

	require.NotNil(t, resp.Result)
	require.NotNil(t, resp.Result.Single)

	item := resp.Result.Single
	assert.Equal(t, "/testZone/ont/run1/report.txt", item.path())
	assert.False(t, item.isCollection())
	assert.Equal(t, int64(42), item.Size)

	// The namespace is split back out of the wire attribute
	require.Len(t, item.AVUs, 1)
	assert.Equal(t, models.NewAVU("experiment_name", "expt_01").WithNamespace("ont"), item.AVUs[0])
}

func TestBatonResponseUnmarshalMultiple(t *testing.T) {
	const doc = `{
		"operation": "metaquery",
		"result": {
			"multiple": [
				{"collection": "/testZone/ont/run1"},
				{"collection": "/testZone/ont/run2", "data_object": "reads.fastq"}
			]
		}
	}`

	var resp batonResponse
	require.NoError(t, json.Unmarshal([]byte(doc), &resp))

	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Multiple, 2)
	assert.Equal(t, "/testZone/ont/run1", resp.Result.Multiple[0].path())
	assert.True(t, resp.Result.Multiple[0].isCollection())
	assert.Equal(t, "/testZone/ont/run2/reads.fastq", resp.Result.Multiple[1].path())
	assert.False(t, resp.Result.Multiple[1].isCollection())
}
