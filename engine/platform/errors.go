package platform

import "errors"

var errVulkanUnsupported = errors.New("glfw reports no vulkan loader on this system")
