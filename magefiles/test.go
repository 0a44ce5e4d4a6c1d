//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests of the packages that do not need a GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/core/...", "./engine/math/...", "./engine/renderer/graph/...", "./engine/renderer/views/...", "./engine/renderer"), withStream())
	return err
}

// Runs every test, including the ones linking the Vulkan backend.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}
