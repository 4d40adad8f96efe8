package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Subsequent calls are no-ops.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID. Messages and conversations
// sort by it, so IDs issued later always compare greater.
func New() int64 {
	return node.Generate().Int64()
}

// Parse reads an ID from its decimal string form, as printed by the CLI
// and persisted in JSON documents.
func Parse(s string) (int64, error) {
	sf, err := snowflake.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing id %q: %w", s, err)
	}
	return sf.Int64(), nil
}

// String formats an ID the way Parse expects it.
func String(v int64) string {
	return snowflake.ParseInt64(v).String()
}
