package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrStorageUnavailable 本地存储不可用，调用方降级为纯在线模式
	ErrStorageUnavailable = errors.New("local storage unavailable")
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("key not found")
	// ErrCollectionUnknown 集合未在模式中声明
	ErrCollectionUnknown = errors.New("collection not declared in schema")
	// ErrSchemaDowngrade 本地数据由更新的模式版本写入
	ErrSchemaDowngrade = errors.New("local data written by a newer schema version")
)

// CollectionSpec 声明一个命名集合及其二级索引字段。
type CollectionSpec struct {
	Name    string
	Indexes []string
}

// Schema 描述本地存储的模式。版本只增不减，
// 迁移只做加法：新集合、新索引，从不改写已有数据。
type Schema struct {
	Version     int
	Collections []CollectionSpec
}

// Entry 一条带索引值的记录。
type Entry struct {
	Key     string            `json:"key"`
	Value   json.RawMessage   `json:"value"`
	Indexed map[string]string `json:"indexed,omitempty"`
}

// collection 内存中的集合与索引
type collection struct {
	spec    CollectionSpec
	entries map[string]Entry
	// index 字段名 -> 字段值 -> 键集合
	index map[string]map[string]map[string]struct{}
}

// Store 文件后端的本地键值存储。
// 每个集合一个 JSON 文件，写操作全量落盘。
// 任何落盘失败都转成 ErrStorageUnavailable，不让坏盘卡死调用方。
type Store struct {
	mu          sync.RWMutex
	basePath    string
	schema      Schema
	collections map[string]*collection
}

type metaFile struct {
	Version int `json:"version"`
}

// Open 打开或初始化本地存储，并按需做加法迁移。
func Open(basePath string, schema Schema) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &Store{
		basePath:    basePath,
		schema:      schema,
		collections: make(map[string]*collection),
	}

	meta, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	if meta.Version > schema.Version {
		return nil, ErrSchemaDowngrade
	}

	for _, spec := range schema.Collections {
		col, err := s.loadCollection(spec)
		if err != nil {
			return nil, err
		}
		s.collections[spec.Name] = col
	}

	// 加法迁移只需要把新版本号落盘，已有数据原样保留
	if meta.Version < schema.Version {
		if err := s.saveMeta(metaFile{Version: schema.Version}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Put 写入或覆盖一条记录。
func (s *Store) Put(collectionName, key string, value interface{}, indexed map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return ErrCollectionUnknown
	}

	if old, exists := col.entries[key]; exists {
		col.removeFromIndex(key, old.Indexed)
	}

	entry := Entry{Key: key, Value: data, Indexed: indexed}
	col.entries[key] = entry
	col.addToIndex(key, indexed)

	return s.saveCollection(col)
}

// Get 读取一条记录并解码到 out。
func (s *Store) Get(collectionName, key string, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return ErrCollectionUnknown
	}
	entry, exists := col.entries[key]
	if !exists {
		return ErrNotFound
	}
	return json.Unmarshal(entry.Value, out)
}

// Delete 删除一条记录，不存在时视为已完成。
func (s *Store) Delete(collectionName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return ErrCollectionUnknown
	}
	entry, exists := col.entries[key]
	if !exists {
		return nil
	}
	col.removeFromIndex(key, entry.Indexed)
	delete(col.entries, key)

	return s.saveCollection(col)
}

// Clear 清空一个集合，登出时逐个集合调用。
func (s *Store) Clear(collectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return ErrCollectionUnknown
	}
	s.collections[collectionName] = newCollection(col.spec)

	return s.saveCollection(s.collections[collectionName])
}

// List 返回集合的全部记录，按键排序保证遍历稳定。
func (s *Store) List(collectionName string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return nil, ErrCollectionUnknown
	}

	entries := make([]Entry, 0, len(col.entries))
	for _, entry := range col.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// FindByIndex 按二级索引查找记录，按键排序。limit 为 0 时不限制条数。
func (s *Store) FindByIndex(collectionName, field, value string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return nil, ErrCollectionUnknown
	}

	keys, ok := col.index[field][value]
	if !ok {
		return nil, nil
	}

	entries := make([]Entry, 0, len(keys))
	for key := range keys {
		if entry, exists := col.entries[key]; exists {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// SchemaVersion 当前模式版本。
func (s *Store) SchemaVersion() int {
	return s.schema.Version
}

// ========== 索引维护 ==========

func newCollection(spec CollectionSpec) *collection {
	col := &collection{
		spec:    spec,
		entries: make(map[string]Entry),
		index:   make(map[string]map[string]map[string]struct{}),
	}
	for _, field := range spec.Indexes {
		col.index[field] = make(map[string]map[string]struct{})
	}
	return col
}

func (c *collection) addToIndex(key string, indexed map[string]string) {
	for field, value := range indexed {
		byValue, ok := c.index[field]
		if !ok {
			// 未声明的索引字段随数据保存，但不参与查询
			continue
		}
		if byValue[value] == nil {
			byValue[value] = make(map[string]struct{})
		}
		byValue[value][key] = struct{}{}
	}
}

func (c *collection) removeFromIndex(key string, indexed map[string]string) {
	for field, value := range indexed {
		if byValue, ok := c.index[field]; ok {
			if keys, ok := byValue[value]; ok {
				delete(keys, key)
				if len(keys) == 0 {
					delete(byValue, value)
				}
			}
		}
	}
}

// ========== 落盘 ==========

func (s *Store) metaPath() string {
	return filepath.Join(s.basePath, "meta.json")
}

func (s *Store) collectionPath(name string) string {
	return filepath.Join(s.basePath, name+".json")
}

func (s *Store) loadMeta() (metaFile, error) {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return metaFile{Version: 0}, nil
		}
		return metaFile{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return metaFile{}, fmt.Errorf("%w: corrupt meta file: %v", ErrStorageUnavailable, err)
	}
	return meta, nil
}

func (s *Store) saveMeta(meta metaFile) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(s.metaPath(), data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) loadCollection(spec CollectionSpec) (*collection, error) {
	col := newCollection(spec)

	data, err := os.ReadFile(s.collectionPath(spec.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return col, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: corrupt collection %s: %v", ErrStorageUnavailable, spec.Name, err)
	}

	for _, entry := range entries {
		col.entries[entry.Key] = entry
		col.addToIndex(entry.Key, entry.Indexed)
	}
	return col, nil
}

func (s *Store) saveCollection(col *collection) error {
	entries := make([]Entry, 0, len(col.entries))
	for _, entry := range col.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(s.collectionPath(col.spec.Name), data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// atomicWrite 先写临时文件再重命名，避免写到一半的文件被读到。
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
