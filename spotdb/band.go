package spotdb

// Band maps a dial frequency in Hz to the band's nominal wavelength in
// meters. Frequencies outside the amateur allocations map to 0.
func Band(freqHz uint64) int {
	switch freqHz / 1_000_000 {
	case 1:
		return 160
	case 3:
		return 80
	case 7:
		return 40
	case 10:
		return 30
	case 14:
		return 20
	case 18:
		return 17
	case 21:
		return 15
	case 24:
		return 12
	case 28:
		return 10
	case 50:
		return 6
	}
	return 0
}
