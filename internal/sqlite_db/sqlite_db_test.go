package sqlite_db

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestRunHistory(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "history", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	pre, err := StartRun(db, "pretraining", `{"embedding_dim":8}`)
	if err != nil {
		t.Fatal(err)
	}
	tune, err := StartRun(db, "instruction_tuning", `{"embedding_dim":8}`)
	if err != nil {
		t.Fatal(err)
	}
	if pre == tune {
		t.Fatal("runs share an ID")
	}

	for epoch, loss := range []float32{2.5, 2, 1.5} {
		if err := RecordEpoch(db, pre, epoch+1, loss, 0.5, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := RecordEpoch(db, tune, 1, 9, 1, 2); err != nil {
		t.Fatal(err)
	}

	losses, err := EpochLosses(db, pre)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(losses, []float32{2.5, 2, 1.5}) {
		t.Fatalf("losses %v", losses)
	}

	runs, err := GetRuns(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Phase != "pretraining" || runs[1].ID != tune {
		t.Fatalf("runs %+v", runs)
	}
}
