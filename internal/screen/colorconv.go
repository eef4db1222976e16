package screen

// BGRAToBGR drops the alpha byte of every pixel. The display hands out
// BGRA; encoders take packed BGR24.
func BGRAToBGR(bgra []byte, width, height int) []byte {
	pixels := width * height
	if len(bgra) < pixels*4 {
		pixels = len(bgra) / 4
	}
	bgr := make([]byte, width*height*3)

	// Four pixels per iteration, then the remainder.
	p4 := pixels &^ 3
	i := 0
	for ; i < p4; i += 4 {
		si, di := i*4, i*3
		bgr[di+0], bgr[di+1], bgr[di+2] = bgra[si+0], bgra[si+1], bgra[si+2]
		bgr[di+3], bgr[di+4], bgr[di+5] = bgra[si+4], bgra[si+5], bgra[si+6]
		bgr[di+6], bgr[di+7], bgr[di+8] = bgra[si+8], bgra[si+9], bgra[si+10]
		bgr[di+9], bgr[di+10], bgr[di+11] = bgra[si+12], bgra[si+13], bgra[si+14]
	}
	for ; i < pixels; i++ {
		si, di := i*4, i*3
		bgr[di+0], bgr[di+1], bgr[di+2] = bgra[si+0], bgra[si+1], bgra[si+2]
	}
	return bgr
}
