package orchestrators

import (
	"errors"
	"strings"
	"testing"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

func orderPkg(base string, deps ...string) *entities.Package {
	pkg := &entities.Package{
		Base:    base,
		Names:   []string{base},
		Version: entities.Version{Ver: "1.0", Rel: "1"},
	}
	for _, dep := range deps {
		pkg.Depends = append(pkg.Depends, entities.Dependency{Name: dep})
	}
	return pkg
}

func baseOrder(pkgs []*entities.Package) string {
	bases := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		bases = append(bases, pkg.Base)
	}
	return strings.Join(bases, " ")
}

func TestResolveBuildOrder_DependencyChain(t *testing.T) {
	pkgs := []*entities.Package{
		orderPkg("c", "b"),
		orderPkg("b", "a"),
		orderPkg("a"),
	}

	ordered, err := ResolveBuildOrder(pkgs)
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "a b c" {
		t.Errorf("order = %q, want %q", got, "a b c")
	}
}

func TestResolveBuildOrder_Provides(t *testing.T) {
	provider := orderPkg("libressl")
	provider.Provides = []entities.Dependency{{Name: "ssl", Op: entities.OpEQ, Version: "3.9"}}

	ordered, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("app", "ssl"),
		provider,
	})
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "libressl app" {
		t.Errorf("order = %q, want %q", got, "libressl app")
	}
}

func TestResolveBuildOrder_SplitMember(t *testing.T) {
	split := &entities.Package{
		Base:    "toolkit",
		Names:   []string{"toolkit-core", "toolkit-extra"},
		Version: entities.Version{Ver: "1.0", Rel: "1"},
	}

	ordered, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("app", "toolkit-extra"),
		split,
	})
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "toolkit app" {
		t.Errorf("order = %q, want %q", got, "toolkit app")
	}
}

func TestResolveBuildOrder_MakeDepends(t *testing.T) {
	app := orderPkg("app")
	app.MakeDepends = []entities.Dependency{{Name: "generator"}}

	ordered, err := ResolveBuildOrder([]*entities.Package{
		app,
		orderPkg("generator"),
	})
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "generator app" {
		t.Errorf("order = %q, want %q", got, "generator app")
	}
}

func TestResolveBuildOrder_IndependentKeepInputOrder(t *testing.T) {
	ordered, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("zsh"),
		orderPkg("attr"),
		orderPkg("bc"),
	})
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "zsh attr bc" {
		t.Errorf("order = %q, want %q", got, "zsh attr bc")
	}
}

func TestResolveBuildOrder_ExternalDependenciesIgnored(t *testing.T) {
	ordered, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("app", "glibc", "zlib"),
	})
	if err != nil {
		t.Fatalf("ResolveBuildOrder() error = %v", err)
	}
	if got := baseOrder(ordered); got != "app" {
		t.Errorf("order = %q, want %q", got, "app")
	}
}

func TestResolveBuildOrder_Cycle(t *testing.T) {
	_, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("a", "b"),
		orderPkg("b", "a"),
	})
	if err == nil {
		t.Fatal("ResolveBuildOrder() error = nil, want cycle error")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error type = %T, want *CycleError", err)
	}
	if !strings.Contains(err.Error(), "dependency cycle detected") {
		t.Errorf("error = %q, want cycle message", err)
	}
	if len(cycleErr.Cycle) != 2 {
		t.Errorf("cycle nodes = %v, want both packages", cycleErr.Cycle)
	}
}

func TestResolveBuildOrder_DuplicateBase(t *testing.T) {
	_, err := ResolveBuildOrder([]*entities.Package{
		orderPkg("tool"),
		orderPkg("tool"),
	})
	if err == nil || !strings.Contains(err.Error(), "more than once") {
		t.Errorf("error = %v, want duplicate pkgbase error", err)
	}
}
