package app

import (
	"github.com/vk/assetpipe/internal/registry"
	"github.com/vk/assetpipe/modules/meshimp"
	"github.com/vk/assetpipe/modules/sceneimp"
	"github.com/vk/assetpipe/modules/textimp"
	"github.com/vk/assetpipe/modules/textureimp"
)

// coreModules is the definitive list of importer modules compiled into the
// assetpiped binary.
var coreModules = []registry.Module{
	&meshimp.Module{},
	&textureimp.Module{},
	&textimp.Module{},
	&sceneimp.Module{},
}
