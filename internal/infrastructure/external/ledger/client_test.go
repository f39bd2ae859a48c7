package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/retry"
)

func TestLicenseDTO_Parsing(t *testing.T) {
	jsonData := `{
    "success": true,
    "data": {
        "principal": "0x9a1f",
        "course_id": "course-solidity-201",
        "token_id": "4211",
        "active": true,
        "valid_until": "2027-01-15T00:00:00Z",
        "issued_at": "2026-01-15T09:30:00Z",
        "tx_hash": "0xabc123"
    },
    "meta": {"indexed_slot": 19483321}
}`

	var response APIResponse[LicenseDTO]
	err := json.Unmarshal([]byte(jsonData), &response)
	require.NoError(t, err)

	assert.True(t, response.Success)
	assert.Equal(t, "0x9a1f", response.Data.Principal)
	assert.Equal(t, "course-solidity-201", response.Data.CourseID)
	assert.True(t, response.Data.Active)
	assert.Equal(t, "0xabc123", response.Data.TxHash)
	require.NotNil(t, response.Meta)
	assert.Equal(t, uint64(19483321), response.Meta.IndexedSlot)
}

func TestMapper_RecordFromDTO(t *testing.T) {
	mapper := NewMapper()

	rec, err := mapper.RecordFromDTO(&ProgressDTO{
		Principal:        "0x9a1f",
		CourseID:         "course-solidity-201",
		TotalUnits:       4,
		CompletedIndexes: []int{0, 2, 9}, // 9 is stale indexer noise
	})
	require.NoError(t, err)

	assert.Equal(t, 4, rec.TotalUnits)
	assert.True(t, rec.IsCompleted(0))
	assert.False(t, rec.IsCompleted(1))
	assert.True(t, rec.IsCompleted(2))
	assert.Equal(t, 2, rec.CompletedCount(), "indexes past the course are dropped")
}

func TestMapper_RecordFromDTO_NilAndInvalid(t *testing.T) {
	mapper := NewMapper()

	_, err := mapper.RecordFromDTO(nil)
	assert.ErrorIs(t, err, ErrNilDTO)

	_, err = mapper.RecordFromDTO(&ProgressDTO{Principal: "", CourseID: "c"})
	assert.Error(t, err)
}

func TestMapper_UnitsFromDTO(t *testing.T) {
	mapper := NewMapper()

	units, err := mapper.UnitsFromDTO(&CourseDTO{
		ID:    "course-solidity-201",
		Title: "Solidity 201",
		Units: []UnitDTO{
			{Index: 0, Title: "Intro", ContentID: "ipfs://bafy0", Kind: "video"},
			{Index: 1, Title: "Storage", ContentID: "ipfs://bafy1", Kind: "video", DurationSeconds: 900},
			{Index: 2, Title: "Slides", ContentID: "placeholder-document-content", Kind: "document"},
		},
	})
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, 1, units[1].UnitIndex)
	assert.Equal(t, "ipfs://bafy1", units[1].ContentID)
}

func TestMapper_UnitsFromDTO_RejectsSparseCourse(t *testing.T) {
	mapper := NewMapper()

	_, err := mapper.UnitsFromDTO(&CourseDTO{
		ID: "course-x",
		Units: []UnitDTO{
			{Index: 0, Title: "A", ContentID: "cid0", Kind: "video"},
			{Index: 2, Title: "B", ContentID: "cid2", Kind: "video"},
		},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCompletionKey_Deterministic(t *testing.T) {
	p := shared.Principal("0x9a1f")
	c := shared.CourseID("course-solidity-201")

	k1 := CompletionKey(p, c, 3)
	k2 := CompletionKey(p, c, 3)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	assert.NotEqual(t, k1, CompletionKey(p, c, 4))
	// The separator keeps adjacent fields from gluing into collisions.
	assert.NotEqual(t,
		CompletionKey(shared.Principal("0xab"), shared.CourseID("c"), 1),
		CompletionKey(shared.Principal("0xa"), shared.CourseID("bc"), 1),
	)
}

func TestQueryLicense_NotFoundIsCleanAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"LICENSE_NOT_FOUND","message":"no license"}`))
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))

	_, err := client.QueryLicense(context.Background(), shared.Principal("0x9a1f"), shared.CourseID("course-x"))
	assert.ErrorIs(t, err, shared.ErrLicenseNotFound)
	assert.NotErrorIs(t, err, shared.ErrTransport)
}

func TestQueryProgress_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.Retrier = retry.New(retry.WithMaxAttempts(1))
	client := NewClient(cfg)

	_, err := client.QueryProgress(context.Background(), shared.Principal("0x9a1f"), shared.CourseID("course-x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestWriteCompletion_SendsIdempotencyKey(t *testing.T) {
	var got CompletionRequestDTO
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(APIResponse[ReceiptDTO]{
			Success: true,
			Data:    ReceiptDTO{ReceiptID: "rcpt-77", TxHash: "0xfeed"},
		})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	p, c := shared.Principal("0x9a1f"), shared.CourseID("course-solidity-201")

	receipt, err := client.WriteCompletion(context.Background(), p, c, 2)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-77", receipt.ID)
	assert.Equal(t, CompletionKey(p, c, 2), got.IdempotencyKey)
}
