package main

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu/webgpu"
	"github.com/gekko3d/voxmarch/rt/pipeline"
	"github.com/go-gl/glfw/v3.3/glfw"
)

func runWindowed(o options, logger voxmarch.Logger) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw: %w", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(int(o.width), int(o.height), "voxmarch", nil, nil)
	if err != nil {
		return fmt.Errorf("glfw: %w", err)
	}
	defer window.Destroy()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	rawSurface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	dev, err := webgpu.New(webgpu.Options{Instance: instance, CompatibleSurface: rawSurface, Logger: logger})
	if err != nil {
		rawSurface.Release()
		return err
	}
	defer dev.Release()
	surface, err := dev.NewSurface(rawSurface)
	if err != nil {
		rawSurface.Release()
		return err
	}
	defer surface.Release()

	fbW, fbH := window.GetFramebufferSize()
	opts := pipelineOptions(o, logger)
	opts.Width, opts.Height = uint32(fbW), uint32(fbH)
	pipe, err := pipeline.New(dev, surface, opts)
	if err != nil {
		return err
	}
	defer pipe.Release()

	s, err := newScene(o, pipe, logger)
	if err != nil {
		return err
	}
	s.world.Update(func(ws *voxmarch.WorldState) { ws.Width, ws.Height = uint32(fbW), uint32(fbH) })

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if width == 0 || height == 0 {
			return
		}
		s.world.Update(func(ws *voxmarch.WorldState) { ws.Width, ws.Height = uint32(width), uint32(height) })
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	for n := 0; !window.ShouldClose(); n++ {
		if o.frames > 0 && n >= o.frames {
			break
		}
		glfw.PollEvents()
		// A minimized window has no framebuffer to present into.
		if w, h := window.GetFramebufferSize(); w == 0 || h == 0 {
			glfw.WaitEvents()
			continue
		}
		if err := s.render(pipe, n); err != nil {
			return err
		}
	}
	return nil
}
