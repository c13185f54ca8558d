package api

import (
	"net/http"
)

// decoyHTML is the bland page served to scrapers and automation. It carries
// no affiliate content and asks not to be indexed.
const decoyHTML = `<!DOCTYPE html>
<html lang="vi">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tin tức tổng hợp</title>
</head>
<body>
<header><h1>Tin tức tổng hợp</h1></header>
<main>
<article>
<h2>Bản tin trong ngày</h2>
<p>Cập nhật các tin tức mới nhất về đời sống, kinh tế và xã hội.</p>
</article>
<article>
<h2>Thời tiết hôm nay</h2>
<p>Thời tiết các khu vực trên cả nước, dự báo trong 24 giờ tới.</p>
</article>
<article>
<h2>Thị trường</h2>
<p>Diễn biến giá cả thị trường và các mặt hàng tiêu dùng.</p>
</article>
</main>
<footer><p>Trang thông tin tổng hợp.</p></footer>
</body>
</html>
`

// serveDecoy writes the decoy page for non-crawler bot traffic. Always 200 so
// scanners see nothing unusual in the status line.
func (s *Server) serveDecoy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(decoyHTML))

	s.Metrics.IncrementDecoyServes()
}
