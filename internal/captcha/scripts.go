package captcha

// The scripts receive the selector catalog as their argument so the Go
// side stays the single source of truth for matchers. Iframe access is
// best-effort: cross-origin frames throw and are skipped.

const detectScript = `(arg) => {
	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
	};
	const scan = (doc) => {
		for (const sel of arg.selectors) {
			let els;
			try { els = doc.querySelectorAll(sel); } catch (e) { continue; }
			for (const el of els) {
				if (isVisible(el)) return true;
			}
		}
		return false;
	};
	if (scan(document)) return true;
	for (const iframe of document.querySelectorAll('iframe')) {
		try {
			const doc = iframe.contentDocument || iframe.contentWindow.document;
			if (doc && scan(doc)) return true;
		} catch (e) {}
	}
	return false;
}`

const geometryScript = `(arg) => {
	const findHandle = (doc) => {
		for (const sel of arg.handle) {
			const el = doc.querySelector(sel);
			if (el) return el;
		}
		return null;
	};
	let handle = findHandle(document);
	let frameRect = null;
	if (!handle) {
		for (const iframe of document.querySelectorAll('iframe')) {
			try {
				const doc = iframe.contentDocument || iframe.contentWindow.document;
				if (!doc) continue;
				handle = findHandle(doc);
				if (handle) {
					frameRect = iframe.getBoundingClientRect();
					break;
				}
			} catch (e) {}
		}
	}
	if (!handle) return null;

	let track = null;
	for (const sel of arg.track) {
		track = handle.closest(sel);
		if (track) break;
	}
	if (!track) track = handle.parentElement;

	const hr = handle.getBoundingClientRect();
	const tr = track ? track.getBoundingClientRect() : hr;
	const ox = frameRect ? frameRect.left : 0;
	const oy = frameRect ? frameRect.top : 0;
	return {
		handleLeft: ox + hr.left,
		handleTop: oy + hr.top,
		handleWidth: hr.width,
		handleHeight: hr.height,
		trackLeft: ox + tr.left,
		trackWidth: tr.width,
		inIframe: frameRect !== null
	};
}`

const verifyScript = `(arg) => {
	const findHandle = (doc) => {
		for (const sel of arg.handle) {
			const el = doc.querySelector(sel);
			if (el) return el;
		}
		return null;
	};
	const handle = findHandle(document);
	if (handle) {
		const left = parseFloat(window.getComputedStyle(handle).left);
		if (!isNaN(left) && left > 10) return true;
	}
	let track = null;
	for (const sel of arg.track) {
		track = document.querySelector(sel);
		if (track) break;
	}
	if (!track || track.style.display === 'none') return true;
	if (document.querySelectorAll('a[href*="item"]').length > 0) return true;
	return false;
}`

const styleFallbackScript = `(arg) => {
	const findHandle = (doc) => {
		for (const sel of arg.handle) {
			const el = doc.querySelector(sel);
			if (el) return el;
		}
		return null;
	};
	const handle = findHandle(document);
	if (!handle) return false;

	let track = null;
	for (const sel of arg.track) {
		track = handle.closest(sel);
		if (track) break;
	}
	if (!track) track = handle.parentElement;
	if (!track) return false;

	const width = track.offsetWidth || track.clientWidth;
	handle.style.left = width + 'px';

	const rect = handle.getBoundingClientRect();
	handle.dispatchEvent(new MouseEvent('mousedown', {
		clientX: rect.x + 5,
		clientY: rect.y + rect.height / 2,
		bubbles: true,
		cancelable: true
	}));
	setTimeout(() => {
		document.dispatchEvent(new MouseEvent('mouseup', {
			clientX: rect.x + width,
			clientY: rect.y + rect.height / 2,
			bubbles: true,
			cancelable: true
		}));
	}, 500);
	return true;
}`
