package clients

import (
	"bytes"
	"os"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
)

// VerifyFeatureDeterminism loads the full event range from a log, runs
// the feature client twice with the same seed-derived configuration,
// and byte-compares the outputs. On success the output is written once
// to outPath; on divergence nothing is written and a
// determinism_failure error is returned.
func VerifyFeatureDeterminism(logPath, indexPath string, seed int64, outPath string) error {
	events, err := replay.ReadEvents(logPath, indexPath, 0, 0)
	if err != nil {
		return err
	}
	cfg := SeededFeatureConfig(seed)

	run1 := joinLines(RunFeature(events, cfg))
	run2 := joinLines(RunFeature(events, cfg))

	if !bytes.Equal(run1, run2) {
		return errs.New(errs.KindDeterminismFailure, errs.WithMessage("determinism check failed"))
	}

	if err := os.WriteFile(outPath, append(run1, '\n'), 0o600); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithPath(outPath), errs.WithCause(err))
	}
	return nil
}

func joinLines(lines []string) []byte {
	var buf bytes.Buffer
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	return buf.Bytes()
}
