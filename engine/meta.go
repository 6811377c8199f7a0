package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	natomic "github.com/natefinch/atomic"

	"github.com/Priyanshu23/chainkv/ondisk"
)

// metaInfo mirrors meta.txt's key-value lines plus its trailing
// bloomfilter_sizes block, one line per row (§6).
type metaInfo struct {
	YoungestVault  int
	OldestVault    int
	RWVaultLogSize int64
	DelLogSize     int64
	BloomSizes     [ondisk.RowCount]uint64
}

func metaPath(dataDir string) string {
	return filepath.Join(dataDir, "meta.txt")
}

// readMeta loads meta.txt, reporting found=false if it does not exist
// (a fresh store).
func readMeta(dataDir string) (m *metaInfo, found bool, err error) {
	f, err := os.Open(metaPath(dataDir))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("engine: open meta.txt: %w", err)
	}
	defer f.Close()

	m = &metaInfo{}
	sc := bufio.NewScanner(f)
	inSizes := false
	sizeIdx := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "bloomfilter_sizes" {
			inSizes = true
			continue
		}
		if inSizes {
			v, perr := strconv.ParseUint(line, 10, 64)
			if perr != nil {
				return nil, false, fmt.Errorf("engine: parse bloom size line %q: %w", line, perr)
			}
			if sizeIdx < len(m.BloomSizes) {
				m.BloomSizes[sizeIdx] = v
			}
			sizeIdx++
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "youngest_vault":
			m.YoungestVault, _ = strconv.Atoi(val)
		case "oldest_vault":
			m.OldestVault, _ = strconv.Atoi(val)
		case "rw_vault_log_size":
			m.RWVaultLogSize, _ = strconv.ParseInt(val, 10, 64)
		case "del_log_size":
			m.DelLogSize, _ = strconv.ParseInt(val, 10, 64)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, fmt.Errorf("engine: scan meta.txt: %w", err)
	}
	return m, true, nil
}

// writeMeta replaces meta.txt with m's contents via the natural
// write-new/fsync/rename-atomic sequence (§9's design-choice note),
// delegated to natefinch/atomic's WriteFile.
func writeMeta(dataDir string, m *metaInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "youngest_vault %d\n", m.YoungestVault)
	fmt.Fprintf(&b, "oldest_vault %d\n", m.OldestVault)
	fmt.Fprintf(&b, "rw_vault_log_size %d\n", m.RWVaultLogSize)
	fmt.Fprintf(&b, "del_log_size %d\n", m.DelLogSize)
	b.WriteString("bloomfilter_sizes\n")
	for _, sz := range m.BloomSizes {
		fmt.Fprintf(&b, "%d\n", sz)
	}
	if err := natomic.WriteFile(metaPath(dataDir), strings.NewReader(b.String())); err != nil {
		return fmt.Errorf("engine: write meta.txt: %w", err)
	}
	return nil
}
