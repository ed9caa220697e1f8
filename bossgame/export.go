package bossgame

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/decred/slog"
)

// Exporter writes end-of-round result files. Export failures never alter
// game state; the orchestrator only logs them.
type Exporter struct {
	Dir  string
	Coin string
	Log  slog.Logger

	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Export writes bossfight_<coin>_<roundId>_<ms>.json with the full result
// and a matching .csv with one username,hits row per damager.
func (e *Exporter) Export(res *FightResult) error {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	base := fmt.Sprintf("bossfight_%s_%d_%d", e.Coin, res.RoundID, now().UnixMilli())

	jsonPath := filepath.Join(e.Dir, base+".json")
	if err := e.writeJSON(jsonPath, res); err != nil {
		return err
	}
	csvPath := filepath.Join(e.Dir, base+".csv")
	if err := e.writeCSV(csvPath, res); err != nil {
		return err
	}
	e.Log.Infof("round %d results exported to %s.{json,csv}", res.RoundID, filepath.Join(e.Dir, base))
	return nil
}

func (e *Exporter) writeJSON(path string, res *FightResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (e *Exporter) writeCSV(path string, res *FightResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"username", "hits"}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	users := make([]string, 0, len(res.UserHits))
	for user := range res.UserHits {
		users = append(users, user)
	}
	// Highest damage first; ties alphabetical.
	sort.Slice(users, func(i, j int) bool {
		if res.UserHits[users[i]] != res.UserHits[users[j]] {
			return res.UserHits[users[i]] > res.UserHits[users[j]]
		}
		return users[i] < users[j]
	})
	for _, user := range users {
		if err := w.Write([]string{user, strconv.FormatUint(uint64(res.UserHits[user]), 10)}); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
