// Package barehttp reports outbound HTTP calls that bypass the request
// pipeline: the package-level helpers of net/http, http.DefaultClient and
// fresh resty clients. Only the pipeline package may build a transport.
package barehttp

import (
	"go/ast"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// AllowedPackage is the import path suffix of the one package allowed to talk HTTP directly.
const AllowedPackage = "internal/pipeline"

var Analyzer = &analysis.Analyzer{
	Name: "barehttp",
	Doc:  "reports HTTP calls made outside the request pipeline",
	Run:  run,
}

var forbidden = map[string]map[string]bool{
	"net/http": {
		"Get":           true,
		"Head":          true,
		"Post":          true,
		"PostForm":      true,
		"DefaultClient": true,
	},
	"github.com/go-resty/resty/v2": {
		"New":           true,
		"NewWithClient": true,
	},
}

func run(pass *analysis.Pass) (interface{}, error) {
	if strings.HasSuffix(pass.Pkg.Path(), AllowedPackage) {
		return nil, nil
	}

	for _, file := range pass.Files {
		filename := pass.Fset.File(file.Pos()).Name()
		if strings.HasSuffix(filename, "_test.go") || isGoBuildCacheFile(filename) {
			continue
		}

		ast.Inspect(file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok {
				return true
			}

			obj := pass.TypesInfo.Uses[sel.Sel]
			if !isPackageLevel(obj) {
				return true
			}

			if names, ok := forbidden[obj.Pkg().Path()]; ok && names[obj.Name()] {
				pass.Reportf(sel.Pos(), "use of %s.%s outside the request pipeline", obj.Pkg().Name(), obj.Name())
			}

			return true
		})
	}

	return nil, nil
}

// isPackageLevel filters out methods and fields, so (*http.Client).Get is not reported.
func isPackageLevel(obj types.Object) bool {
	return obj != nil && obj.Pkg() != nil && obj.Parent() == obj.Pkg().Scope()
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/")
}
