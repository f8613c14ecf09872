package events

// Voxelize discretises the events in the window [t0, t1] into a volume
// of shape [bins, h, w] written into buf, which must hold bins*h*w
// values. Events outside the window or the frame are dropped.
func Voxelize(evs []Event, rep Representation, bins, h, w int, t0, t1 int64, buf []float32) {
	for i := range buf[:bins*h*w] {
		buf[i] = 0
	}
	span := t1 - t0
	for _, ev := range evs {
		if ev.T < t0 || ev.T > t1 || int(ev.X) >= w || int(ev.Y) >= h {
			continue
		}
		pix := int(ev.Y)*w + int(ev.X)
		pol := float32(ev.Polarity)
		switch rep {
		case Stepan:
			bin := 0
			if span > 0 {
				bin = int(int64(bins) * (ev.T - t0) / span)
				if bin >= bins {
					bin = bins - 1
				}
			}
			buf[bin*h*w+pix] += pol
		default:
			// bilinear interpolation onto the scaled timestamp in [0, bins-1]
			ts := float64(0)
			if span > 0 {
				ts = float64(ev.T-t0) / float64(span) * float64(bins-1)
			}
			lo := int(ts)
			frac := float32(ts - float64(lo))
			buf[lo*h*w+pix] += pol * (1 - frac)
			if lo+1 < bins {
				buf[(lo+1)*h*w+pix] += pol * frac
			}
		}
	}
}
