// Command smhtctl attaches to a shared-memory hash table and runs one
// operation against it, the way an operator would poke at a running
// segment from a shell without writing a throwaway program each time.
package main

import (
	"fmt"
	"hash/crc32"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ArtUkrainskiy/smht"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "smhtctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	cmd := args[0]
	fs := pflag.NewFlagSet("smhtctl "+cmd, pflag.ContinueOnError)
	name := fs.StringP("name", "n", "", "shared-memory segment name")
	keyCount := fs.Int("key-count", 1024, "number of hash-table buckets")
	dataCount := fs.Int("data-count", 65536, "number of data-arena blocks")
	blockSize := fs.Int("block-size", 64, "size in bytes of one data-arena block")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}
	defer logger.Sync() //nolint:errcheck

	table, err := smht.Open(*name, *keyCount, *dataCount, *blockSize, smht.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open %s: %w", *name, err)
	}
	defer table.Close()

	switch cmd {
	case "set":
		rest := fs.Args()
		if len(rest) != 2 {
			return fmt.Errorf("usage: smhtctl set --name NAME KEY VALUE")
		}
		if !table.Set(rest[0], rest[1]) {
			return fmt.Errorf("set %q: arena full", rest[0])
		}
		fmt.Println("ok")

	case "get":
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: smhtctl get --name NAME KEY")
		}
		fmt.Println(table.Get(rest[0]))

	case "unset":
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: smhtctl unset --name NAME KEY")
		}
		fmt.Println(table.Unset(rest[0]))

	case "clear":
		table.Clear()
		fmt.Println("ok")

	case "meminfo":
		info := table.MemInfo()
		fmt.Printf("free_bytes=%d longest_free_block_bytes=%d longest_allocated_block_bytes=%d allocated_runs=%d\n",
			info.FreeBytes, info.LongestFreeBlockBytes, info.LongestAllocatedBlockBytes, info.AllocatedRuns)

	case "defrag":
		table.HardDefragmentation()
		fmt.Println("ok")

	case "verify":
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: smhtctl verify --name NAME KEY")
		}
		val := table.Get(rest[0])
		sum := crc32.ChecksumIEEE([]byte(val))
		fmt.Printf("crc32=%08x len=%d\n", sum, len(val))

	default:
		return usageError()
	}

	return nil
}

func usageError() error {
	return fmt.Errorf(`usage: smhtctl <set|get|unset|clear|meminfo|defrag|verify> --name NAME [flags] [args]

  set    --name NAME KEY VALUE
  get    --name NAME KEY
  unset  --name NAME KEY
  clear  --name NAME
  meminfo --name NAME
  defrag --name NAME
  verify --name NAME KEY   (crc32 and length of the value read for KEY; nothing is written to the segment)`)
}
