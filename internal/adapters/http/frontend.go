package http

import (
	"net/http"
)

// frontendHTML is the embedded map viewer. It opens a session, streams
// frames over the session WebSocket and forwards pointer and wheel input.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>climap</title>
    <style>
        :root {
            --bg: #0f172a;
            --panel: rgba(15, 23, 42, 0.85);
            --text: #e2e8f0;
            --muted: #94a3b8;
            --line: rgba(255, 255, 255, 0.55);
            --grid: rgba(255, 255, 255, 0.2);
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        html, body { height: 100%; background: var(--bg); color: var(--text);
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; }
        #map { position: fixed; inset: 0; touch-action: none; cursor: grab; }
        #map.dragging { cursor: grabbing; }
        #map img, #map svg { position: absolute; inset: 0; width: 100%; height: 100%; }
        #map svg path { fill: none; stroke: var(--line); stroke-width: 1; vector-effect: non-scaling-stroke; }
        #map svg path.geographicLines { stroke: var(--grid); stroke-dasharray: 2 3; }
        .panel { position: fixed; background: var(--panel); border-radius: 8px; padding: 0.75rem; font-size: 0.85rem; }
        #controls { top: 1rem; left: 1rem; display: flex; gap: 0.5rem; align-items: center; }
        #controls select { background: transparent; color: var(--text); border: 1px solid var(--muted); border-radius: 4px; padding: 0.2rem; }
        #info { bottom: 1rem; left: 1rem; min-width: 12rem; display: none; }
        #info .value { font-size: 1.2rem; font-weight: 600; }
        #info .coords { color: var(--muted); }
        #status { bottom: 1rem; right: 1rem; color: var(--muted); }
    </style>
</head>
<body>
    <div id="map"><img alt=""><svg preserveAspectRatio="none"></svg></div>
    <div id="controls" class="panel">
        <select id="dataset"><option value="">(no dataset)</option></select>
        <select id="ramp">
            <option>viridis</option><option>plasma</option><option>inferno</option>
            <option>magma</option><option>grayscale</option>
            <option>precipitation</option><option>temperature</option>
        </select>
    </div>
    <div id="info" class="panel"><div class="value"></div><div class="coords"></div></div>
    <div id="status" class="panel">connecting</div>

    <script>
        (function() {
            'use strict';

            const api = '/api/v1';
            const map = document.getElementById('map');
            const img = map.querySelector('img');
            const svg = map.querySelector('svg');
            const info = document.getElementById('info');
            const status = document.getElementById('status');
            const datasetSelect = document.getElementById('dataset');
            const rampSelect = document.getElementById('ramp');

            let session = null;
            let ws = null;
            let pendingFrame = null;
            let size = null;

            function send(msg) {
                if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(msg));
            }

            function pointer(type, e) {
                const r = map.getBoundingClientRect();
                send({type: 'event', event: {type: type, x: e.clientX - r.left, y: e.clientY - r.top, deltaY: e.deltaY || 0}});
            }

            map.addEventListener('pointerdown', function(e) {
                map.setPointerCapture(e.pointerId);
                map.classList.add('dragging');
                pointer('pointerdown', e);
            });
            map.addEventListener('pointermove', function(e) {
                if (map.classList.contains('dragging')) pointer('pointermove', e);
            });
            map.addEventListener('pointerup', function(e) {
                map.classList.remove('dragging');
                pointer('pointerup', e);
            });
            map.addEventListener('pointercancel', function(e) {
                map.classList.remove('dragging');
                pointer('pointercancel', e);
            });
            map.addEventListener('wheel', function(e) {
                e.preventDefault();
                pointer('wheel', e);
            }, {passive: false});

            function showRegion(region) {
                if (!region) { info.style.display = 'none'; return; }
                const value = region.value === null || region.value === undefined
                    ? 'no data' : region.value.toFixed(2) + ' ' + (region.units || '');
                info.querySelector('.value').textContent = value;
                info.querySelector('.coords').textContent =
                    region.lat.toFixed(2) + '°, ' + region.lon.toFixed(2) + '°';
                info.style.display = 'block';
            }

            function showBoundaries(paths) {
                svg.innerHTML = '';
                (paths || []).forEach(function(p) {
                    const el = document.createElementNS('http://www.w3.org/2000/svg', 'path');
                    el.setAttribute('d', p.d);
                    el.setAttribute('class', p.kind);
                    svg.appendChild(el);
                });
            }

            function onMessage(ev) {
                if (typeof ev.data !== 'string') {
                    if (!pendingFrame) return;
                    const url = URL.createObjectURL(ev.data);
                    const old = img.src;
                    img.src = url;
                    if (old) URL.revokeObjectURL(old);
                    svg.setAttribute('viewBox', '0 0 ' + size.width + ' ' + size.height);
                    status.textContent = pendingFrame.quality + ' 1/' + pendingFrame.downsample + ' ' + pendingFrame.duration_ms + 'ms';
                    pendingFrame = null;
                    return;
                }
                const msg = JSON.parse(ev.data);
                switch (msg.type) {
                    case 'frame': pendingFrame = msg.frame; break;
                    case 'boundaries': showBoundaries(msg.paths); break;
                    case 'region': showRegion(msg.region); break;
                    case 'error': status.textContent = msg.error; break;
                }
            }

            function connect() {
                const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
                ws = new WebSocket(proto + '//' + location.host + api + '/sessions/' + session.id + '/ws');
                ws.addEventListener('open', function() { status.textContent = 'connected'; });
                ws.addEventListener('message', onMessage);
                ws.addEventListener('close', function() { status.textContent = 'disconnected'; });
            }

            function surface() {
                const ratio = window.devicePixelRatio || 1;
                return {
                    width: Math.round(map.clientWidth * ratio),
                    height: Math.round(map.clientHeight * ratio),
                    pixel_ratio: ratio
                };
            }

            async function start() {
                const list = await fetch(api + '/datasets').then(function(r) { return r.json(); });
                (list.datasets || []).forEach(function(ds) {
                    const opt = document.createElement('option');
                    opt.value = ds.id;
                    opt.textContent = ds.name + (ds.units ? ' (' + ds.units + ')' : '');
                    opt.disabled = !ds.ready;
                    datasetSelect.appendChild(opt);
                });
                const first = (list.datasets || []).find(function(ds) { return ds.ready; });
                if (first) datasetSelect.value = first.id;

                size = surface();
                const body = Object.assign({}, size);
                body.layer = {dataset_id: datasetSelect.value, ramp: rampSelect.value};
                const resp = await fetch(api + '/sessions', {
                    method: 'POST',
                    headers: {'Content-Type': 'application/json'},
                    body: JSON.stringify(body)
                });
                if (!resp.ok) { status.textContent = 'session failed: ' + resp.status; return; }
                session = await resp.json();
                connect();
            }

            function updateLayer() {
                send({type: 'layer', layer: {dataset_id: datasetSelect.value, ramp: rampSelect.value}});
            }
            datasetSelect.addEventListener('change', updateLayer);
            rampSelect.addEventListener('change', updateLayer);

            let resizeTimer = null;
            window.addEventListener('resize', function() {
                clearTimeout(resizeTimer);
                resizeTimer = setTimeout(function() {
                    size = surface();
                    send({type: 'resize', width: size.width, height: size.height});
                }, 200);
            });
            window.addEventListener('beforeunload', function() {
                if (session) fetch(api + '/sessions/' + session.id, {method: 'DELETE', keepalive: true});
            });

            start().catch(function(err) { status.textContent = String(err); });
        })();
    </script>
</body>
</html>`

// handleFrontend serves the map viewer.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
