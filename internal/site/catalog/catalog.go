// Package catalog registers every built-in adapter.
package catalog

import (
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/site/icodrops"
	"github.com/CMoncur/proto-scrape/internal/site/smithandcrown"
)

// Registry returns a registry holding the built-in adapters.
func Registry() *site.Registry {
	r := site.NewRegistry()
	mustRegister(r, icodrops.Name, icodrops.Factory)
	mustRegister(r, smithandcrown.Name, smithandcrown.Factory)
	return r
}

func mustRegister(r *site.Registry, name string, f site.Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}
