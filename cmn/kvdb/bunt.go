// Package kvdb provides a local key/value database server for radstore.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package kvdb

import (
	"strings"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"
)

// InMemoryPath opens a non-persistent database (tests, diskless runs).
const InMemoryPath = ":memory:"

type BuntDriver struct {
	driver *buntdb.DB
}

// interface guard
var _ Driver = (*BuntDriver)(nil)

func NewBuntDB(path string) (*BuntDriver, error) {
	driver, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntDriver{driver: driver}, nil
}

func makePath(collection, key string) string { return collection + CollectionSepa + key }

func (bd *BuntDriver) Close() error {
	err := bd.driver.Shrink()
	if err != nil && err != buntdb.ErrDatabaseClosed {
		debug.Errorf("failed to shrink DB: %v", err)
	}
	return bd.driver.Close()
}

func (bd *BuntDriver) Set(collection, key string, object any) error {
	b := cos.MustMarshal(object)
	return bd.SetString(collection, key, string(b))
}

func (bd *BuntDriver) Get(collection, key string, object any) error {
	s, err := bd.GetString(collection, key)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal([]byte(s), object)
}

func (bd *BuntDriver) SetString(collection, key, data string) error {
	name := makePath(collection, key)
	return bd.driver.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(name, data, nil)
		return err
	})
}

func (bd *BuntDriver) GetString(collection, key string) (string, error) {
	var (
		value string
		name  = makePath(collection, key)
	)
	err := bd.driver.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(name)
		return err
	})
	if err == buntdb.ErrNotFound {
		err = NewErrNotFound(collection, key)
	}
	return value, err
}

func (bd *BuntDriver) Delete(collection, key string) error {
	name := makePath(collection, key)
	err := bd.driver.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(name)
		return err
	})
	if err == buntdb.ErrNotFound {
		err = NewErrNotFound(collection, key)
	}
	return err
}

func (bd *BuntDriver) List(collection, pattern string) ([]string, error) {
	var (
		keys   = make([]string, 0)
		filter = makePath(collection, pattern)
	)
	if !strings.ContainsAny(pattern, "*?") {
		filter += "*"
	}
	err := bd.driver.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(filter, func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	return keys, err
}

func (bd *BuntDriver) DeleteCollection(collection string) error {
	keys, err := bd.List(collection, "")
	if err != nil || len(keys) == 0 {
		return err
	}
	return bd.driver.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (bd *BuntDriver) GetAll(collection, pattern string) (map[string]string, error) {
	var (
		values = make(map[string]string)
		filter = makePath(collection, pattern)
	)
	if !strings.ContainsAny(pattern, "*?") {
		filter += "*"
	}
	err := bd.driver.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(filter, func(key, value string) bool {
			if _, short := ParsePath(key); short != "" {
				values[short] = value
			}
			return true
		})
	})
	return values, err
}
