// Package idgen 提供基于雪花算法的分布式 ID 生成
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
)

// Generator ID 生成器
type Generator interface {
	Generate() int64
}

// Snowflake 雪花 ID 生成器，节点号取值 [0, 1023]
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake 创建指定节点的生成器
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// Generate 生成 int64 ID
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}

// Sequence 递增序列生成器，用于测试得到确定的 ID
type Sequence struct {
	n atomic.Int64
}

// Generate 返回下一个序号
func (s *Sequence) Generate() int64 {
	return s.n.Add(1)
}

// PrefixedID 生成带业务前缀的字符串 ID，例如 FE1740000000000
func PrefixedID(g Generator, prefix string) string {
	return prefix + strconv.FormatInt(g.Generate(), 10)
}
