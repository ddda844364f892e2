package protocol

import (
	"encoding/json"
	"testing"

	"github.com/vaultforge/syncd/pkg/types"
)

func TestParseVersionNumeric(t *testing.T) {
	if got := ParseVersion(json.RawMessage(`42`)); got != 42 {
		t.Errorf("ParseVersion(42) = %d, want 42", got)
	}
}

func TestParseVersionNumericString(t *testing.T) {
	if got := ParseVersion(json.RawMessage(`"7"`)); got != 7 {
		t.Errorf(`ParseVersion("7") = %d, want 7`, got)
	}
}

func TestParseVersionNonNumericFallsBackToZero(t *testing.T) {
	if got := ParseVersion(json.RawMessage(`"not-a-number"`)); got != 0 {
		t.Errorf("ParseVersion(garbage) = %d, want 0", got)
	}
}

func TestParseVersionEmptyFallsBackToZero(t *testing.T) {
	if got := ParseVersion(nil); got != 0 {
		t.Errorf("ParseVersion(nil) = %d, want 0", got)
	}
}

func TestFrameToFileRow(t *testing.T) {
	frame := Frame{
		Path: "note.md", Hash: "abc", Size: 12,
		Ctime: 1000, Mtime: 2000, Folder: false, Deleted: false,
	}
	row := frame.ToFileRow("vault-1")
	if row.VaultID != "vault-1" || row.Created != 1000 || row.Modified != 2000 {
		t.Errorf("ToFileRow() = %+v", row)
	}
}

func TestFileItemFromRowStampsDevice(t *testing.T) {
	row := types.File{UID: 5, Path: "a.md", Created: 1, Modified: 2}
	item := FileItemFromRow(row, ServerDevice)
	if item.Device != ServerDevice || item.Ctime != 1 || item.Mtime != 2 {
		t.Errorf("FileItemFromRow() = %+v", item)
	}
}

func TestMessageJSONOmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(Ready(3))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("Ready(3) marshaled fields = %v, want exactly op+version", decoded)
	}
	if decoded["op"] != "ready" || decoded["version"] != float64(3) {
		t.Errorf("Ready(3) = %v", decoded)
	}
}

func TestHistoryReplyIncludesExplicitMoreFalse(t *testing.T) {
	data, err := json.Marshal(HistoryReply(nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	more, ok := decoded["more"]
	if !ok {
		t.Fatalf("HistoryReply JSON = %v, want an explicit \"more\" key", decoded)
	}
	if more != false {
		t.Errorf("more = %v, want false", more)
	}
}

func TestDeletedReplyOmitsMore(t *testing.T) {
	data, err := json.Marshal(DeletedReply(nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["more"]; ok {
		t.Errorf("DeletedReply JSON = %v, want no \"more\" key", decoded)
	}
}
