package memtable_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/storage/memtable"
)

func entry(key, value string, ts uint64) model.Entry {
	return model.Entry{Key: key, Value: []byte(value), Timestamp: clock.Timestamp(ts)}
}

func TestSkipList_InsertAndReplace(t *testing.T) {
	sl := memtable.NewSkipListWithSeed(1)

	_, replaced := sl.Insert("key1", entry("key1", "value1", 1))
	assert.False(t, replaced)

	prev, replaced := sl.Insert("key1", entry("key1", "value2", 2))
	require.True(t, replaced)
	assert.Equal(t, "value1", string(prev.Value))

	got, found := sl.Search("key1")
	require.True(t, found)
	assert.Equal(t, "value2", string(got.Value))
	assert.Equal(t, 1, sl.Len())
}

func TestSkipList_Search(t *testing.T) {
	sl := memtable.NewSkipListWithSeed(2)
	sl.Insert("apple", entry("apple", "fruit1", 1))
	sl.Insert("banana", entry("banana", "fruit2", 1))
	sl.Insert("cherry", entry("cherry", "fruit3", 1))

	tests := []struct {
		name      string
		key       string
		wantValue string
		wantFound bool
	}{
		{"search existing key", "banana", "fruit2", true},
		{"search non-existing key", "mango", "", false},
		{"search first key", "apple", "fruit1", true},
		{"search last key", "cherry", "fruit3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := sl.Search(tt.key)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantValue, string(got.Value))
		})
	}
}

func TestSkipList_Delete(t *testing.T) {
	sl := memtable.NewSkipListWithSeed(3)
	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("key%d", i)
		sl.Insert(key, entry(key, "v", 1))
	}

	assert.True(t, sl.Delete("key2"))
	assert.False(t, sl.Delete("key4"))
	assert.Equal(t, 2, sl.Len())

	_, found := sl.Search("key2")
	assert.False(t, found)
}

func TestSkipList_IteratorIsOrdered(t *testing.T) {
	sl := memtable.NewSkipListWithSeed(4)
	for _, k := range []string{"cherry", "apple", "banana"} {
		sl.Insert(k, entry(k, "v", 1))
	}

	var keys []string
	for it := sl.Iterator(); it.Next(); {
		keys = append(keys, it.Key())
		assert.Equal(t, it.Key(), it.Entry().Key)
	}
	assert.Equal(t, []string{"apple", "banana", "cherry"}, keys)
}

func TestSkipList_Empty(t *testing.T) {
	sl := memtable.NewSkipList()

	_, found := sl.Search("key1")
	assert.False(t, found)
	assert.False(t, sl.Delete("key1"))
	assert.False(t, sl.Iterator().Next())
	assert.Equal(t, 0, sl.Len())
}

func BenchmarkSkipList_Insert(b *testing.B) {
	sl := memtable.NewSkipList()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key%d", i)
		sl.Insert(key, entry(key, "value", uint64(i)))
	}
}
