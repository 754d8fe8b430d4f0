package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mousedb/pkg/domain"
)

var savedAt = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func sampleContents() Contents {
	state := domain.NewState()
	state.Cages["C1"] = domain.Cage{ID: "C1", Capacity: 5, Note: "rack 1", CreatedAt: savedAt}
	state.Cages["C0"] = domain.Cage{ID: "C0", CreatedAt: savedAt}
	live := domain.Mouse{
		ID: "M-b", Genotype: "WT", Sex: "F", CageID: "C1",
		Metadata:  domain.Metadata{BirthDate: "2024-11-02", Toe: "R1", Attributes: map[string]string{"ear": "L"}},
		CreatedAt: savedAt, UpdatedAt: savedAt,
	}
	dead := domain.Mouse{ID: "M-a", Genotype: "CMV-CRE", Sex: "M", CageID: "C1", Tombstoned: true, CreatedAt: savedAt, UpdatedAt: savedAt}
	state.Mice[live.ID] = live
	state.Mice[dead.ID] = dead
	aliveImage := dead
	aliveImage.Tombstoned = false
	return Contents{
		State:   state,
		DeadIDs: []string{"M-a"},
		History: []domain.ChangeRecord{
			{Seq: 1, Timestamp: savedAt, Kind: domain.OpCreateCage, Entity: domain.EntityCage, EntityID: "C1",
				After: &domain.RecordState{Cage: &domain.Cage{ID: "C1"}}},
		},
		Pending: []domain.ChangeRecord{
			{Seq: 4, Timestamp: savedAt, Kind: domain.OpDelete, Entity: domain.EntityMouse, EntityID: "M-a",
				Before: &domain.RecordState{Mouse: &aliveImage}, After: &domain.RecordState{Mouse: &dead}},
		},
		LastSeq: 4,
		Schema:  domain.DefaultSchema(),
	}
}

func TestBuildOrdersAndStampsDocument(t *testing.T) {
	doc := Build(sampleContents(), savedAt)
	other := Build(sampleContents(), savedAt)

	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.NotEmpty(t, doc.SaveID)
	assert.NotEqual(t, doc.SaveID, other.SaveID, "each build gets a fresh save id")
	assert.Equal(t, int64(4), doc.Clock)
	require.Len(t, doc.Cages, 2)
	assert.Equal(t, "C0", doc.Cages[0].ID)
	require.Len(t, doc.Entities, 2)
	assert.Equal(t, "M-a", doc.Entities[0].ID)
	assert.Equal(t, domain.DefaultSchema().Genotypes(), doc.Schema.Genotypes)
	require.NoError(t, doc.Validate())
}

func TestRoundTripFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			doc := Build(sampleContents(), savedAt)
			data, err := Encode(doc, format)
			require.NoError(t, err)

			decoded, err := Decode(data, format)
			require.NoError(t, err)
			assert.Equal(t, doc.SaveID, decoded.SaveID)
			assert.True(t, doc.SavedAt.Equal(decoded.SavedAt))
			assert.Equal(t, doc.Cages, decoded.Cages)
			assert.Equal(t, doc.Entities, decoded.Entities)
			assert.Equal(t, doc.DeadIDs, decoded.DeadIDs)
			assert.Equal(t, doc.Changelog, decoded.Changelog)
			assert.Equal(t, doc.Pending, decoded.Pending)

			contents, err := decoded.Contents()
			require.NoError(t, err)
			want := sampleContents()
			assert.Equal(t, want.State, contents.State)
			assert.Equal(t, want.LastSeq, contents.LastSeq)
			assert.Equal(t, want.DeadIDs, contents.DeadIDs)
		})
	}
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatForPath("colony.YAML"))
	assert.Equal(t, FormatYAML, FormatForPath("/tmp/colony.yml"))
	assert.Equal(t, FormatJSON, FormatForPath("colony.json"))
	assert.Equal(t, FormatJSON, FormatForPath("colony"))

	_, err := Encode(Document{}, Format("toml"))
	assert.Error(t, err)
}

func TestDecodeVersionTag(t *testing.T) {
	_, err := Decode([]byte(`{"cages": []}`), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCorruptSnapshot), "missing version is corrupt: %v", err)

	_, err = Decode([]byte(`{"schema_version": 2, "cages": "not a list"}`), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSchemaVersionMismatch), "got %v", err)
	assert.False(t, errors.Is(err, domain.ErrCorruptSnapshot))

	_, err = Decode([]byte("schema_version: 7\n"), FormatYAML)
	assert.True(t, errors.Is(err, domain.ErrSchemaVersionMismatch), "got %v", err)
}

func TestDecodeCorruptDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":           `   `,
		"syntax":          `{"schema_version": 1,`,
		"wrong type":      `{"schema_version": 1, "cages": {"C1": 1}}`,
		"cage without id": `{"schema_version": 1, "cages": [{"capacity": 2}]}`,
		"duplicate cage":  `{"schema_version": 1, "cages": [{"id": "C1"}, {"id": "C1"}]}`,
		"missing sex":     `{"schema_version": 1, "cages": [{"id": "C1"}], "entities": [{"id": "M-1", "genotype": "WT", "cage_id": "C1"}]}`,
		"dangling cage":   `{"schema_version": 1, "cages": [{"id": "C1"}], "entities": [{"id": "M-1", "genotype": "WT", "sex": "F", "cage_id": "C9"}]}`,
		"duplicate entity": `{"schema_version": 1, "cages": [{"id": "C1"}], "entities": [
			{"id": "M-1", "genotype": "WT", "sex": "F", "cage_id": "C1"},
			{"id": "M-1", "genotype": "WT", "sex": "M", "cage_id": "C1"}]}`,
		"dead id of live entity": `{"schema_version": 1, "cages": [{"id": "C1"}], "entities": [{"id": "M-1", "genotype": "WT", "sex": "F", "cage_id": "C1"}], "dead_ids": ["M-1"]}`,
		"unordered changelog": `{"schema_version": 1, "clock": 5, "changelog": [
			{"seq": 2, "kind": "CREATE_CAGE", "entity_id": "C1"},
			{"seq": 2, "kind": "CREATE_CAGE", "entity_id": "C2"}]}`,
		"clock behind": `{"schema_version": 1, "clock": 1, "changelog": [{"seq": 3, "kind": "CREATE_CAGE", "entity_id": "C1"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body), FormatJSON)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrCorruptSnapshot), "got %v", err)
			assert.True(t, domain.IsRecoverable(err))
		})
	}
}

func TestTombstonedEntityMayLackCage(t *testing.T) {
	body := `{"schema_version": 1, "entities": [{"id": "M-1", "genotype": "WT", "sex": "F", "tombstoned": true}], "dead_ids": ["M-1"]}`
	doc, err := Decode([]byte(body), FormatJSON)
	require.NoError(t, err)
	contents, err := doc.Contents()
	require.NoError(t, err)
	assert.True(t, contents.State.Mice["M-1"].Tombstoned)
}
