/*
Copyright 2024 The Relstore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package btreeidx registers the "btree" index.Kind, adapting
// pkg/btree.Tree to the index.Index interface.
package btreeidx

import (
	"relstore/pkg/btree"
	"relstore/pkg/index"
)

type adapter struct {
	t *btree.Tree
}

func (a *adapter) Search(key int32) (int64, bool, error) { return a.t.Search(key) }
func (a *adapter) Insert(key int32, ptr int64) error     { return a.t.Insert(key, ptr) }
func (a *adapter) Delete(key int32) error                { return a.t.Delete(key) }
func (a *adapter) Close() error                          { return a.t.Close() }

func (a *adapter) Range(lo, hi int32) ([]index.Entry, error) {
	es, err := a.t.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]index.Entry, len(es))
	for i, e := range es {
		out[i] = index.Entry{Key: e.Key, Ptr: e.Ptr}
	}
	return out, nil
}

func create(p index.Params) (index.Index, error) {
	t, err := btree.Create(p.Path, p.PageSize, p.Fanout, p.Unique)
	if err != nil {
		return nil, err
	}
	return &adapter{t: t}, nil
}

func open(p index.Params) (index.Index, error) {
	t, err := btree.Open(p.Path, p.PageSize, p.Fanout, p.Unique)
	if err != nil {
		return nil, err
	}
	return &adapter{t: t}, nil
}

func init() {
	index.Register(index.BTree, create, open)
}
