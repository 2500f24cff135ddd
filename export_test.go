package ndsp

// SetHardwareStatus writes a raw status code the way the DSP would.
func (d *Descriptor) SetHardwareStatus(s uint8) {
	d.setHardwareStatus(s)
}

// SetMunmap replaces the unmap call used by Region.Close until restore is called.
func SetMunmap(fn func([]byte) error) (restore func()) {
	prev := munmap
	munmap = fn

	return func() { munmap = prev }
}
