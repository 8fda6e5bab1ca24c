package hinata

import (
	"github.com/notcontrolos/hinata/pkg/packet"
	"github.com/notcontrolos/hinata/pkg/packet/validate"
)

// CreatePacket allocates, registers, and returns a new packet. The caller
// holds the initial reference and must Put it when done.
func (s *Service) CreatePacket(params packet.CreateParams) (*packet.Packet, error) {
	return s.packets.Create(params)
}

// FindPacket looks a packet up by UUID in the in-memory registry. The
// returned packet carries a reference the caller must Put. Packets that
// only exist on disk are not found here; use LoadPacket.
func (s *Service) FindPacket(id string) (*packet.Packet, error) {
	return s.packets.Find(id)
}

// ClonePacket deep-copies a packet and returns the copy with one reference
// held by the caller. The clone shares the original's UUID and therefore
// stays out of the registry; it is a private working copy.
func (s *Service) ClonePacket(p *packet.Packet) (*packet.Packet, error) {
	return p.Clone()
}

// ValidatePacket runs the packet through the shared validator at the
// configured default level.
func (s *Service) ValidatePacket(p *packet.Packet) validate.Result {
	return s.validator.Check(p, s.level)
}

// ValidatePacketAt runs the packet through the shared validator at an
// explicit level.
func (s *Service) ValidatePacketAt(p *packet.Packet, level validate.Level) validate.Result {
	return s.validator.Check(p, level)
}
