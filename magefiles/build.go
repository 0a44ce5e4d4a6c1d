//go:build mage

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every compute shader under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the shaders and then the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/cascade", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	sources, err := filepath.Glob(filepath.Join(shaderDir, "*.comp"))
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shaders found in %s", shaderDir)
	}
	for _, src := range sources {
		out := strings.TrimSuffix(src, ".comp") + ".comp.spv"
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}
